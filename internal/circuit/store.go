// ABOUTME: Per-service circuit breaker state store with sliding-window failure accounting
// ABOUTME: Closed/Open/HalfOpen state machine, mutations serialized per service name

package circuit

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/forgeflow/core/pkg/types"
)

var meter = otel.Meter("forgeflow-core")

// entry is the mutable, store-private state for one service. Only
// failureTimestamps and the fields also present in
// types.CircuitStateInfo are read under lock; the snapshot handed back
// to callers is always a copy.
type entry struct {
	mu                   sync.Mutex
	state                types.CircuitState
	failureCount         int
	halfOpenSuccessCount int
	lastFailureTime      time.Time
	circuitOpenedAt      time.Time
	lastStateTransition  time.Time
	failureTimestamps    []time.Time
}

func (e *entry) snapshot(service string) types.CircuitStateInfo {
	return types.CircuitStateInfo{
		Service:               service,
		State:                 e.state,
		FailureCount:          e.failureCount,
		HalfOpenSuccessCount:  e.halfOpenSuccessCount,
		LastFailureTime:       e.lastFailureTime,
		CircuitOpenedAt:       e.circuitOpenedAt,
		LastStateTransitionAt: e.lastStateTransition,
	}
}

// Store is an in-memory, per-key-linearizable implementation of the
// circuit state store. A networked implementation must preserve the
// same semantics; nothing in Store's public API assumes an in-process
// caller.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	openCounter     metric.Int64Counter
	closeCounter    metric.Int64Counter
	halfOpenCounter metric.Int64Counter
}

// New returns an empty Store.
func New() *Store {
	openCounter, _ := meter.Int64Counter("forgeflow_circuit_opened_total")
	closeCounter, _ := meter.Int64Counter("forgeflow_circuit_closed_total")
	halfOpenCounter, _ := meter.Int64Counter("forgeflow_circuit_half_opened_total")
	return &Store{
		entries:         make(map[string]*entry),
		openCounter:     openCounter,
		closeCounter:    closeCounter,
		halfOpenCounter: halfOpenCounter,
	}
}

func (s *Store) entryFor(service string) *entry {
	s.mu.RLock()
	e, ok := s.entries[service]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[service]; ok {
		return e
	}
	e = &entry{lastStateTransition: time.Now()}
	s.entries[service] = e
	return e
}

// GetState returns a snapshot of service's current state, creating a
// fresh Closed entry on first reference.
func (s *Store) GetState(service string) types.CircuitStateInfo {
	e := s.entryFor(service)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(service)
}

// SaveState overwrites service's state wholesale; used to seed state
// from a remote store or from a test fixture.
func (s *Store) SaveState(service string, state types.CircuitStateInfo) {
	e := s.entryFor(service)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state.State
	e.failureCount = state.FailureCount
	e.halfOpenSuccessCount = state.HalfOpenSuccessCount
	e.lastFailureTime = state.LastFailureTime
	e.circuitOpenedAt = state.CircuitOpenedAt
	e.lastStateTransition = state.LastStateTransitionAt
}

// RecordFailure appends a failure timestamp for service, evicts
// timestamps older than opts.SamplingDuration, and transitions state
// per §4.5: Closed -> Open once failureCount reaches the threshold;
// HalfOpen -> Open unconditionally on any failure. The updated
// snapshot is returned atomically with the mutation.
func (s *Store) RecordFailure(service string, opts types.CircuitBreakerOptions) types.CircuitStateInfo {
	e := s.entryFor(service)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.lastFailureTime = now

	switch e.state {
	case types.CircuitHalfOpen:
		e.state = types.CircuitOpen
		e.halfOpenSuccessCount = 0
		e.circuitOpenedAt = now
		e.lastStateTransition = now
		e.failureTimestamps = append(e.failureTimestamps, now)
		e.failureCount = len(e.failureTimestamps)
		s.openCounter.Add(context.Background(), 1)
		return e.snapshot(service)

	case types.CircuitOpen:
		return e.snapshot(service)

	default: // Closed
		e.failureTimestamps = append(e.failureTimestamps, now)
		e.failureTimestamps = evictOlderThan(e.failureTimestamps, now, opts.SamplingDuration)
		e.failureCount = len(e.failureTimestamps)

		if e.failureCount >= opts.FailureThreshold {
			e.state = types.CircuitOpen
			e.circuitOpenedAt = now
			e.lastStateTransition = now
			s.openCounter.Add(context.Background(), 1)
		}
		return e.snapshot(service)
	}
}

// RecordSuccess clears the failure list in Closed (a no-op state-wise
// beyond the reset), increments the half-open probe counter in
// HalfOpen and transitions to Closed once opts.HalfOpenRequests
// successes accumulate, and is a no-op in Open.
func (s *Store) RecordSuccess(service string, opts types.CircuitBreakerOptions) types.CircuitStateInfo {
	e := s.entryFor(service)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case types.CircuitHalfOpen:
		e.halfOpenSuccessCount++
		if e.halfOpenSuccessCount >= opts.HalfOpenRequests {
			e.state = types.CircuitClosed
			e.halfOpenSuccessCount = 0
			e.failureCount = 0
			e.failureTimestamps = nil
			e.lastStateTransition = time.Now()
			s.closeCounter.Add(context.Background(), 1)
		}
		return e.snapshot(service)

	case types.CircuitClosed:
		e.failureCount = 0
		e.failureTimestamps = nil
		return e.snapshot(service)

	default: // Open: a success in Open is unchanged per §4.5/S6
		return e.snapshot(service)
	}
}

// TransitionToHalfOpen moves service from Open to HalfOpen once
// opts.OpenDuration has elapsed since it opened. The store does not do
// this autonomously (per §9's design note); the scheduler is expected
// to call it before attempting a probe. It is a no-op outside Open or
// before the duration has elapsed, and returns the (possibly
// unchanged) snapshot either way.
func (s *Store) TransitionToHalfOpen(service string, opts types.CircuitBreakerOptions) types.CircuitStateInfo {
	e := s.entryFor(service)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == types.CircuitOpen && time.Since(e.circuitOpenedAt) >= opts.OpenDuration {
		e.state = types.CircuitHalfOpen
		e.halfOpenSuccessCount = 0
		e.lastStateTransition = time.Now()
		s.halfOpenCounter.Add(context.Background(), 1)
	}
	return e.snapshot(service)
}

// GetAllStates returns a snapshot of every tracked service.
func (s *Store) GetAllStates() map[string]types.CircuitStateInfo {
	s.mu.RLock()
	services := make([]string, 0, len(s.entries))
	for svc := range s.entries {
		services = append(services, svc)
	}
	s.mu.RUnlock()

	out := make(map[string]types.CircuitStateInfo, len(services))
	for _, svc := range services {
		out[svc] = s.GetState(svc)
	}
	return out
}

// RemoveState discards all tracked state for service.
func (s *Store) RemoveState(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, service)
}

// ClearAll discards all tracked state for every service.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

// IsHealthy reports whether every tracked service is outside the Open
// state.
func (s *Store) IsHealthy() bool {
	for _, state := range s.GetAllStates() {
		if state.State == types.CircuitOpen {
			return false
		}
	}
	return true
}

func evictOlderThan(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
