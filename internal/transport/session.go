// Package transport carries opaque payloads between the host and the
// companion. It models a single paired link: asynchronous activation, a
// reachability flag, peer status, message-with-reply calls and host pushes.
package transport

import (
	"context"
	"errors"
)

// ActivationState is the lifecycle state of a session.
type ActivationState int

const (
	NotActivated ActivationState = iota
	Inactive
	Activated
)

func (s ActivationState) String() string {
	switch s {
	case NotActivated:
		return "notActivated"
	case Inactive:
		return "inactive"
	case Activated:
		return "activated"
	default:
		return "unknown"
	}
}

var (
	// ErrNotReachable is returned when a call is attempted, or was in
	// flight, while the peer is not connected.
	ErrNotReachable = errors.New("peer not reachable")
	// ErrUnauthorized is returned when the host rejects the pairing token.
	ErrUnauthorized = errors.New("pairing rejected")
)

// Session is the companion's end of the link.
type Session interface {
	// Activate starts the session. Completion is reported through
	// SessionDelegate.ActivationDidComplete.
	Activate(ctx context.Context)
	ActivationState() ActivationState
	IsReachable() bool
	IsCompanionAppInstalled() bool
	NeedsUnlockAfterReboot() bool
	// SendMessage delivers payload and waits for the single reply.
	SendMessage(ctx context.Context, payload []byte) ([]byte, error)
	SetDelegate(d SessionDelegate)
}

// SessionDelegate receives session lifecycle callbacks. Callbacks arrive on
// transport goroutines.
type SessionDelegate interface {
	ActivationDidComplete(state ActivationState, err error)
	ReachabilityDidChange(reachable bool)
	DidReceiveNotification(payload []byte)
}

// ReplyFunc sends the reply to one inbound message. Only the first call has
// an effect.
type ReplyFunc func(payload []byte)

// MessageHandler is the host's end of the link.
type MessageHandler interface {
	HandleMessage(ctx context.Context, payload []byte, reply ReplyFunc)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, payload []byte, reply ReplyFunc)

func (f MessageHandlerFunc) HandleMessage(ctx context.Context, payload []byte, reply ReplyFunc) {
	f(ctx, payload, reply)
}
