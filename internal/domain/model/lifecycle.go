package model

import "fmt"

// LifecycleState is a vendor's payment connection state for one provider.
// StateConnecting is transient: it spans an OAuth round trip and is never
// persisted.
type LifecycleState string

const (
	StateDisconnected LifecycleState = "disconnected"
	StateConnecting   LifecycleState = "connecting"
	StateConnected    LifecycleState = "connected"
	StateRevoked      LifecycleState = "revoked"
)

// LifecycleEvent drives a LifecycleState transition.
type LifecycleEvent string

const (
	EventAuthURLIssued     LifecycleEvent = "auth_url_issued"
	EventExchangeSucceeded LifecycleEvent = "exchange_succeeded"
	EventExchangeFailed    LifecycleEvent = "exchange_failed"
	EventDisconnected      LifecycleEvent = "disconnected"
	EventCacheReset        LifecycleEvent = "cache_reset"
)

type transitionKey struct {
	from  LifecycleState
	event LifecycleEvent
}

var transitions = map[transitionKey]LifecycleState{
	{StateDisconnected, EventAuthURLIssued}:   StateConnecting,
	{StateRevoked, EventAuthURLIssued}:        StateConnecting,
	{StateConnected, EventAuthURLIssued}:      StateConnecting,
	{StateConnecting, EventExchangeSucceeded}: StateConnected,
	{StateConnecting, EventExchangeFailed}:    StateDisconnected,
	{StateConnected, EventDisconnected}:       StateRevoked,
	{StateConnected, EventCacheReset}:         StateRevoked,
}

// Transition returns the state reached from `from` on event, or
// ErrInvalidTransition if the event is not allowed in that state.
func Transition(from LifecycleState, event LifecycleEvent) (LifecycleState, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%s on %s: %w", event, from, ErrInvalidTransition)
	}
	return to, nil
}

// DeriveState computes the persisted lifecycle state from connection rows.
// Only rows decide; the vendor cache is never consulted.
func DeriveState(conns []PaymentConnection) LifecycleState {
	if len(conns) == 0 {
		return StateDisconnected
	}
	for _, c := range conns {
		if c.IsActive() {
			return StateConnected
		}
	}
	return StateRevoked
}

// DeriveProviderState is DeriveState restricted to one provider's rows.
func DeriveProviderState(conns []PaymentConnection, provider Provider) LifecycleState {
	var scoped []PaymentConnection
	for _, c := range conns {
		if c.Provider == provider {
			scoped = append(scoped, c)
		}
	}
	return DeriveState(scoped)
}
