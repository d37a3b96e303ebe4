// Package policy implements PolicyEvaluator: it parses principal rule
// expressions, matches sessions against them, resolves policy
// variables, evaluates MQTT-style wildcard resource/operation matches,
// and returns a total ALLOW/DENY decision.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edgecore/cda/internal/metrics"
)

// PolicyError wraps any failure during evaluation — a parse error in a
// principal expression, or a listed policy variable with no value. Per
// spec, decisions are total: a PolicyError always resolves to DENY, it
// is never silently treated as ALLOW.
type PolicyError struct {
	Message string
	Cause   error
}

func (e *PolicyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("policy: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("policy: %s", e.Message)
}

func (e *PolicyError) Unwrap() error { return e.Cause }

func policyErrorf(format string, args ...any) error {
	return &PolicyError{Message: fmt.Sprintf(format, args...)}
}

// Session is the subset of session attribute lookup the evaluator needs.
// namespace/path mirror the spec's "Thing → {ThingName,
// ThingAttributes.*}, Certificate → {CertificateId}, Component →
// {component}" attribute providers.
type Session interface {
	Attribute(namespace, path string) (string, bool)
}

// Permission is one (operation, resource) rule inside a Group, with the
// resourcePolicyVariables enumerating which ${namespace:path}
// placeholders in Resource are eligible for substitution.
type Permission struct {
	Operation                string
	Resource                 string
	ResourcePolicyVariables []string
}

// Group is a named principal rule expression plus the permissions it
// grants when the expression matches the session.
type Group struct {
	Name       string
	Principal  string
	Permissions []Permission
}

// Policy is a named set of Groups.
type Policy struct {
	Name   string
	Groups []Group
}

// compiledGroup pairs a Group with its parsed principal expression.
type compiledGroup struct {
	group Group
	expr  expr
}

// Compiled is a Policy whose principal expressions have been parsed
// once, ready for repeated Evaluate calls.
type Compiled struct {
	name   string
	groups []compiledGroup
}

// Compile parses every group's principal expression. A malformed
// expression fails the whole compile with a PolicyError — policies are
// loaded at configuration time, so a bad expression should surface as a
// configuration problem rather than a per-request failure.
func Compile(p Policy) (*Compiled, error) {
	compiled := &Compiled{name: p.Name, groups: make([]compiledGroup, 0, len(p.Groups))}
	for _, g := range p.Groups {
		parsed, err := parse(g.Principal)
		if err != nil {
			return nil, &PolicyError{Message: fmt.Sprintf("group %q: invalid principal expression", g.Name), Cause: err}
		}
		compiled.groups = append(compiled.groups, compiledGroup{group: g, expr: parsed})
	}
	return compiled, nil
}

// Decision is the outcome of one Evaluate call, carrying a short trace
// for logging alongside the boolean verdict.
type Decision struct {
	Allow bool
	Trace []string
	Err   error
}

func deny(trace []string, err error) Decision {
	return Decision{Allow: false, Trace: trace, Err: err}
}

// Evaluate returns ALLOW iff at least one group whose principal
// expression matches session has a permission whose operation and
// resource (after variable substitution) both match the request. Any
// error during evaluation — a principal-matching failure or a missing
// listed variable — makes the whole call DENY, carrying the PolicyError
// in Decision.Err.
func (c *Compiled) Evaluate(session Session, operation, resource string) (decision Decision) {
	defer func() {
		if decision.Allow {
			metrics.Registry.IncrCounter(metrics.PolicyDecisionsAllow, 1)
		} else {
			metrics.Registry.IncrCounter(metrics.PolicyDecisionsDeny, 1)
		}
	}()

	var trace []string
	for _, cg := range c.groups {
		matched, err := cg.expr.matches(session)
		if err != nil {
			return deny(trace, &PolicyError{Message: fmt.Sprintf("group %q: principal evaluation failed", cg.group.Name), Cause: err})
		}
		if !matched {
			trace = append(trace, fmt.Sprintf("group %q: principal did not match", cg.group.Name))
			continue
		}
		trace = append(trace, fmt.Sprintf("group %q: principal matched", cg.group.Name))

		for _, perm := range cg.group.Permissions {
			resolvedResource, err := substituteVariables(perm.Resource, perm.ResourcePolicyVariables, session)
			if err != nil {
				return deny(trace, err)
			}
			if matchSegments(perm.Operation, operation) && matchSegments(resolvedResource, resource) {
				trace = append(trace, fmt.Sprintf("permission operation=%q resource=%q allowed", perm.Operation, perm.Resource))
				return Decision{Allow: true, Trace: trace}
			}
		}
	}
	return deny(trace, nil)
}

// substituteVariables replaces every variable in listed with its
// resolved session attribute value inside resource text; variables not
// present in listed are left as literal text. A listed variable with no
// session value is a PolicyError, per spec ("does not silently allow").
func substituteVariables(resource string, listed []string, session Session) (string, error) {
	for _, variable := range listed {
		namespace, path, err := parseVariable(variable)
		if err != nil {
			return "", &PolicyError{Message: "malformed policy variable " + variable, Cause: err}
		}
		value, ok := session.Attribute(namespace, path)
		if !ok {
			return "", &PolicyError{Message: fmt.Sprintf("variable %s has no value", variable)}
		}
		resource = strings.ReplaceAll(resource, variable, value)
	}
	return resource, nil
}

// parseVariable splits "${namespace:path}" into its namespace and path.
func parseVariable(variable string) (namespace, path string, err error) {
	if !strings.HasPrefix(variable, "${") || !strings.HasSuffix(variable, "}") {
		return "", "", errors.New("variable must have the form ${namespace:path}")
	}
	inner := variable[2 : len(variable)-1]
	namespace, path, ok := strings.Cut(inner, ":")
	if !ok {
		return "", "", errors.New("variable must have the form ${namespace:path}")
	}
	return namespace, path, nil
}
