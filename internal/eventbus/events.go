package eventbus

// The event classes below are the minimum set named in the spec's
// external-interfaces section. Each is a small, immutable struct; Class()
// returns a stable string so dispatch does not depend on package-qualified
// reflect type names leaking into logs.

type CaCertificateChainChanged struct {
	PEMs []string
}

func (CaCertificateChainChanged) Class() string { return "CaCertificateChainChanged" }

type CaConfigurationChanged struct {
	CaType string
}

func (CaConfigurationChanged) Class() string { return "CaConfigurationChanged" }

type ConnectivityConfigurationChanged struct {
	Hosts []string
}

func (ConnectivityConfigurationChanged) Class() string { return "ConnectivityConfigurationChanged" }

// ConnectivityChanged is raised by the shadow monitor when the resolved
// host-address set actually differs from the previously observed set; it
// is what triggers server-certificate rotation.
type ConnectivityChanged struct {
	Hosts []string
}

func (ConnectivityChanged) Class() string { return "ConnectivityChanged" }

type SecurityConfigurationChanged struct {
	TrustDurationMinutes int
}

func (SecurityConfigurationChanged) Class() string { return "SecurityConfigurationChanged" }

type MetricsConfigurationChanged struct {
	Disabled       bool
	AggregatePeriodSeconds int
}

func (MetricsConfigurationChanged) Class() string { return "MetricsConfigurationChanged" }

type SessionCreationOutcome string

const (
	SessionCreationSuccess SessionCreationOutcome = "SUCCESS"
	SessionCreationFailure SessionCreationOutcome = "FAILURE"
)

type SessionCreation struct {
	Outcome SessionCreationOutcome
	Reason  string
}

func (SessionCreation) Class() string { return "SessionCreation" }

type AuthorizeOutcome string

const (
	AuthorizeSuccess AuthorizeOutcome = "SUCCESS"
	AuthorizeFail    AuthorizeOutcome = "FAIL"
)

type AuthorizeClientDeviceAction struct {
	Outcome   AuthorizeOutcome
	Operation string
	Resource  string
}

func (AuthorizeClientDeviceAction) Class() string { return "AuthorizeClientDeviceAction" }

type GetClientDeviceAuthTokenOutcome string

const (
	GetClientDeviceAuthTokenSuccess GetClientDeviceAuthTokenOutcome = "SUCCESS"
	GetClientDeviceAuthTokenFailure GetClientDeviceAuthTokenOutcome = "FAILURE"
)

type GetClientDeviceAuthToken struct {
	Outcome GetClientDeviceAuthTokenOutcome
}

func (GetClientDeviceAuthToken) Class() string { return "GetClientDeviceAuthToken" }

type CertificateSubscriptionOutcome string

const (
	CertificateSubscriptionSuccess CertificateSubscriptionOutcome = "SUCCESS"
	CertificateSubscriptionFail    CertificateSubscriptionOutcome = "FAIL"
)

type CertificateSubscription struct {
	Outcome     CertificateSubscriptionOutcome
	ServiceID   string
	CommonName  string
}

func (CertificateSubscription) Class() string { return "CertificateSubscription" }

// NetworkStateChanged is raised by the network state tracker whenever the
// observed UP/DOWN state actually transitions.
type NetworkStateChanged struct {
	Up       bool
	Sequence uint64
}

func (NetworkStateChanged) Class() string { return "NetworkStateChanged" }
