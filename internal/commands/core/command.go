// Package core implements the "core" CLI command: it loads
// configuration and a policy document from disk, wires every CDA
// domain component together, and runs the service until signaled to
// stop.
package core

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/mitchellh/cli"

	climod "github.com/edgecore/cda/internal/cli"
	"github.com/edgecore/cda/internal/cloud"
	"github.com/edgecore/cda/internal/common"
	"github.com/edgecore/cda/internal/connectivity"
	"github.com/edgecore/cda/internal/transport"
)

// keystorePassphraseEnv names the environment variable the CA keystore
// encryption passphrase is read from. It is never accepted as a flag
// or CLI argument so it never appears in a process listing or shell
// history.
const keystorePassphraseEnv = "CDA_KEYSTORE_PASSPHRASE"

var (
	errMissingCollaborators = errors.New("core: cloud, transport, and host-resolver collaborators must be set before Run")
	errMissingPassphrase    = errors.New("core: " + keystorePassphraseEnv + " is not set")
)

// Command runs the CDA core service. The concrete cloud and transport
// bindings are this domain's external collaborators (spec.md §1's
// Non-goals): an embedding binary must set the exported fields below
// before invoking Run.
type Command struct {
	UI     cli.Ui
	output io.Writer
	ctx    context.Context

	// ThingVerifier, CertificateResolver, and AttributesFetcher back the
	// cloud-first trust model, certificate registry, and attributes
	// cache respectively.
	ThingVerifier       cloud.ThingVerifier
	CertificateResolver cloud.CertificateResolver
	AttributesFetcher   cloud.ThingAttributesFetcher
	// Transport is the MQTT-shaped publish/subscribe surface the
	// connectivity tracker follows the device shadow over.
	Transport transport.Transport
	// HostResolver answers the connectivity tracker's "what hosts does
	// this shadow version name" question.
	HostResolver connectivity.HostResolver

	cli *climod.CommonCLI
}

// New returns a new core command. logOutput is wrapped so the many
// goroutines Run eventually starts (metrics/profiling servers,
// connectivity tracker background work) can all log to it concurrently.
func New(ctx context.Context, ui cli.Ui, logOutput io.Writer) *Command {
	return &Command{UI: ui, output: common.SynchronizeWriter(logOutput), ctx: ctx}
}

func (c *Command) Run(args []string) int {
	c.cli = climod.NewCommonCLI(c.ctx, c.Help(), c.Synopsis(), c.UI, c.output, "core")
	if err := c.cli.Parse(args); err != nil {
		return c.cli.Error("parsing command line flags", err)
	}

	configFile := c.cli.Flags.Arg(0)
	policyFile := c.cli.Flags.Arg(1)
	keystoreDir := c.cli.Flags.Arg(2)
	if configFile == "" || policyFile == "" || keystoreDir == "" {
		return c.cli.Error("parsing arguments", errors.New("usage: core CONFIG-FILE POLICY-FILE KEYSTORE-DIR"))
	}

	if c.ThingVerifier == nil || c.CertificateResolver == nil || c.AttributesFetcher == nil || c.Transport == nil || c.HostResolver == nil {
		return c.cli.Error("starting core service", errMissingCollaborators)
	}

	passphrase := os.Getenv(keystorePassphraseEnv)
	if passphrase == "" {
		return c.cli.Error("starting core service", errMissingPassphrase)
	}

	logger := c.cli.Logger("cda-core")

	rawConfig, err := readJSONMap(configFile)
	if err != nil {
		return c.cli.Error("loading configuration", err)
	}

	rawPolicy, err := readPolicy(policyFile)
	if err != nil {
		return c.cli.Error("loading policy document", err)
	}

	return RunServer(ServerConfig{
		Context:             c.ctx,
		Logger:              logger,
		RawConfig:           rawConfig,
		Policy:              rawPolicy,
		KeystoreDir:         keystoreDir,
		KeystorePassphrase:  passphrase,
		ThingVerifier:       c.ThingVerifier,
		CertificateResolver: c.CertificateResolver,
		AttributesFetcher:   c.AttributesFetcher,
		Transport:           c.Transport,
		HostResolver:        c.HostResolver,
	})
}

func (c *Command) Synopsis() string {
	return "Runs the client device authentication core service"
}

func (c *Command) Help() string {
	return `
Usage: cda-core core [options] CONFIG-FILE POLICY-FILE KEYSTORE-DIR

  Runs the client device authentication core service: loads the
  configuration document from CONFIG-FILE and the policy document from
  POLICY-FILE (both JSON, see spec.md §6 and §4.7), opens or
  initializes the CA keystore rooted at KEYSTORE-DIR, and blocks
  serving sessions until interrupted.

  The CA keystore encryption passphrase is read from the
  ` + keystorePassphraseEnv + ` environment variable, never from a flag
  or argument.

  Additional flags and more advanced use cases are detailed below.
`
}
