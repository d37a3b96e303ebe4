package policy

import "strings"

// matchIdent implements the thingName rule-expression wildcard: "*"
// alone matches anything; "*suffix", "prefix*", and "*middle*" apply
// leading/trailing/containing matches respectively; no interior
// wildcard besides the two endpoints.
func matchIdent(pattern, value string) bool {
	if pattern == "*" {
		return true
	}

	hasPrefix := strings.HasPrefix(pattern, "*")
	hasSuffix := strings.HasSuffix(pattern, "*")
	core := pattern
	if hasPrefix {
		core = strings.TrimPrefix(core, "*")
	}
	if hasSuffix {
		core = strings.TrimSuffix(core, "*")
	}

	switch {
	case hasPrefix && hasSuffix:
		return strings.Contains(value, core)
	case hasPrefix:
		return strings.HasSuffix(value, core)
	case hasSuffix:
		return strings.HasPrefix(value, core)
	default:
		return value == pattern
	}
}

// matchSegments implements operation/resource matching: both sides are
// split on ':' and compared segment-by-segment, where a pattern segment
// that is exactly "*" matches any single value segment. The segment
// counts must match — a wildcard segment stands for exactly one
// segment, not an arbitrary-length suffix.
func matchSegments(pattern, value string) bool {
	patternSegments := strings.Split(pattern, ":")
	valueSegments := strings.Split(value, ":")
	if len(patternSegments) != len(valueSegments) {
		return false
	}
	for i, seg := range patternSegments {
		if seg == "*" {
			continue
		}
		if seg != valueSegments[i] {
			return false
		}
	}
	return true
}
