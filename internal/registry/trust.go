package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/edgecore/cda/internal/cloud"
	"github.com/edgecore/cda/internal/eventbus"
)

// Source identifies whether a VerificationDecision came from a live
// cloud answer or from the locally cached attachment.
type Source string

const (
	SourceCloud Source = "CLOUD"
	SourceLocal Source = "LOCAL"
)

// VerificationDecision is the result of VerifyThingAttachedToCertificate.
type VerificationDecision struct {
	Attached     bool
	Source       Source
	LastAttached time.Time
	ExpiresAt    time.Time
}

// NetworkStatus reports whether the transport is currently reachable;
// satisfied by internal/network's tracker.
type NetworkStatus interface {
	Up() bool
}

// TrustModel implements VerifyThingAttachedToCertificate: cloud-first
// verification when the network is up, falling back to the thing's
// locally cached attachment when offline or when the cloud's answer is
// indefinite (a transport/service error, as opposed to a definite
// negative).
type TrustModel struct {
	things   *ThingRegistry
	verifier cloud.ThingVerifier
	network  NetworkStatus

	trustDurationNanos atomic.Int64
}

// NewTrustModel wires a TrustModel and subscribes it to
// SecurityConfigurationChanged so trustDurationMinutes can change at
// runtime without restarting the process.
func NewTrustModel(bus *eventbus.Bus, things *ThingRegistry, verifier cloud.ThingVerifier, network NetworkStatus, initialTrustDuration time.Duration) *TrustModel {
	m := &TrustModel{things: things, verifier: verifier, network: network}
	m.trustDurationNanos.Store(int64(initialTrustDuration))

	bus.Register(eventbus.SecurityConfigurationChanged{}.Class(), eventbus.ListenerFunc(func(event eventbus.Event) eventbus.Result {
		changed, ok := event.(eventbus.SecurityConfigurationChanged)
		if !ok {
			return eventbus.Result{}
		}
		m.trustDurationNanos.Store(int64(time.Duration(changed.TrustDurationMinutes) * time.Minute))
		return eventbus.Result{}
	}))
	return m
}

func (m *TrustModel) trustDuration() time.Duration {
	return time.Duration(m.trustDurationNanos.Load())
}

// VerifyThingAttachedToCertificate implements the cloud-first,
// local-fallback decision described in spec.md §4.5. now is threaded
// through explicitly to keep the decision deterministic under test.
func (m *TrustModel) VerifyThingAttachedToCertificate(ctx context.Context, thingName, iotCertificateID string, now time.Time) (VerificationDecision, error) {
	thing, err := m.things.GetOrCreate(thingName)
	if err != nil {
		return VerificationDecision{}, err
	}

	if m.network.Up() {
		verdict, err := m.verifier.VerifyThingAttachedToCertificate(ctx, thingName, iotCertificateID)
		if err == nil {
			switch verdict {
			case cloud.DefiniteFalse:
				return VerificationDecision{Attached: false, Source: SourceCloud}, nil
			case cloud.DefiniteTrue:
				thing.Attach(iotCertificateID, now)
				duration := m.trustDuration()
				return VerificationDecision{
					Attached:     true,
					Source:       SourceCloud,
					LastAttached: now,
					ExpiresAt:    now.Add(duration),
				}, nil
			}
			// cloud.Indefinite with no error: fall through to local trust.
		}
		// A non-nil err is also indefinite (service/transport failure): fall through.
	}

	attachment, ok := thing.LocalAttachment(iotCertificateID)
	if !ok {
		return VerificationDecision{Attached: false, Source: SourceLocal}, nil
	}

	duration := m.trustDuration()
	expiresAt := attachment.LastAttached.Add(duration)
	return VerificationDecision{
		Attached:     now.Before(expiresAt),
		Source:       SourceLocal,
		LastAttached: attachment.LastAttached,
		ExpiresAt:    expiresAt,
	}, nil
}
