// Package config decodes the runtime configuration keys spec.md §6
// recognizes into a typed Config, and diffs two generations of it into
// the domain events their changes trigger.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/edgecore/cda/internal/ca"
	"github.com/edgecore/cda/internal/common"
	"github.com/edgecore/cda/internal/eventbus"
)

// CaType is the recognized certificateAuthority.ca.caType enum.
type CaType string

const (
	CaTypeRSA2048   CaType = "RSA_2048"
	CaTypeRSA4096   CaType = "RSA_4096"
	CaTypeECDSAP256 CaType = "ECDSA_P256"
	CaTypeECDSAP384 CaType = "ECDSA_P384"
)

// Config is the decoded shape of spec.md §6's recognized configuration
// keys. Field names mirror the dotted config keys via mapstructure
// tags, the same decode-into-struct idiom the teacher uses for its
// Vault PKI issue-data body (internal/vault/certificates.go).
type Config struct {
	Security struct {
		ClientDeviceTrustDurationMinutes int `mapstructure:"clientDeviceTrustDurationMinutes"`
	} `mapstructure:"security"`

	CertificateAuthority struct {
		Ca struct {
			CaType         CaType `mapstructure:"caType"`
			CertificateURI string `mapstructure:"certificateUri"`
			PrivateKeyURI  string `mapstructure:"privateKeyUri"`
		} `mapstructure:"ca"`
	} `mapstructure:"certificateAuthority"`

	Performance struct {
		MaxActiveAuthTokens int `mapstructure:"maxActiveAuthTokens"`
	} `mapstructure:"performance"`

	Metrics struct {
		DisableMetrics  bool `mapstructure:"disableMetrics"`
		AggregatePeriod int  `mapstructure:"aggregatePeriod"`
	} `mapstructure:"metrics"`

	Connectivity struct {
		HostAddresses []string `mapstructure:"hostAddresses"`
	} `mapstructure:"connectivity"`
}

// ToKeyType maps the wire-format caType enum (underscore-separated, per
// spec.md §6) onto internal/ca's KeyType (hyphen-separated, the form
// x509 profile code reads).
func (t CaType) ToKeyType() (ca.KeyType, error) {
	switch t {
	case CaTypeRSA2048:
		return ca.RSA2048, nil
	case CaTypeRSA4096:
		return ca.RSA4096, nil
	case CaTypeECDSAP256:
		return ca.ECDSAP256, nil
	case CaTypeECDSAP384:
		return ca.ECDSAP384, nil
	default:
		return "", fmt.Errorf("config: unrecognized caType %q", t)
	}
}

// CustomCA reports whether both certificateUri and privateKeyUri are
// set, which per spec.md §6 enters custom-CA mode and suppresses
// automatic regeneration on a caType change.
func (c *Config) CustomCA() bool {
	return c.CertificateAuthority.Ca.CertificateURI != "" && c.CertificateAuthority.Ca.PrivateKeyURI != ""
}

// Decode builds a Config from a raw, loosely-typed settings map (what
// the external configuration-file parser hands the core; parsing the
// file itself is out of scope per spec.md §1).
func Decode(raw map[string]any) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Diff compares old to next and returns the domain events their
// differences trigger, per spec.md §6. old may be nil, in which case
// every set field is reported as changed (first-configuration case).
func Diff(old, next *Config) []eventbus.Event {
	var events []eventbus.Event

	if old == nil || old.CertificateAuthority.Ca.CaType != next.CertificateAuthority.Ca.CaType {
		events = append(events, eventbus.CaConfigurationChanged{CaType: string(next.CertificateAuthority.Ca.CaType)})
	}

	if old == nil || !hostSetEqual(old.Connectivity.HostAddresses, next.Connectivity.HostAddresses) {
		events = append(events, eventbus.ConnectivityConfigurationChanged{Hosts: next.Connectivity.HostAddresses})
	}

	if old == nil || old.Security.ClientDeviceTrustDurationMinutes != next.Security.ClientDeviceTrustDurationMinutes {
		events = append(events, eventbus.SecurityConfigurationChanged{TrustDurationMinutes: next.Security.ClientDeviceTrustDurationMinutes})
	}

	if old == nil || old.Metrics.DisableMetrics != next.Metrics.DisableMetrics || old.Metrics.AggregatePeriod != next.Metrics.AggregatePeriod {
		events = append(events, eventbus.MetricsConfigurationChanged{
			Disabled:               next.Metrics.DisableMetrics,
			AggregatePeriodSeconds: next.Metrics.AggregatePeriod,
		})
	}

	return events
}

func hostSetEqual(a, b []string) bool {
	return common.NewStringSet(a...).Equal(common.NewStringSet(b...))
}
