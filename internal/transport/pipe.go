package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pipe is an in-process Session wired directly to a MessageHandler. Peer
// status is controlled by the caller, which makes it the session used by
// tests and by embedded setups.
type Pipe struct {
	handler MessageHandler

	mu           sync.Mutex
	delegate     SessionDelegate
	state        ActivationState
	activateErr  error
	reachable    bool
	appInstalled bool
	needsUnlock  bool

	sent atomic.Int64
}

// NewPipe returns a reachable pipe with the companion app installed. It is
// not activated until Activate is called.
func NewPipe(handler MessageHandler) *Pipe {
	return &Pipe{
		handler:      handler,
		reachable:    true,
		appInstalled: true,
	}
}

func (p *Pipe) SetDelegate(d SessionDelegate) {
	p.mu.Lock()
	p.delegate = d
	p.mu.Unlock()
}

// Activate completes asynchronously, with the error set by
// SetActivationError if any.
func (p *Pipe) Activate(_ context.Context) {
	p.mu.Lock()
	err := p.activateErr
	if err == nil {
		p.state = Activated
	} else {
		p.state = NotActivated
	}
	state, d := p.state, p.delegate
	p.mu.Unlock()

	if d != nil {
		go d.ActivationDidComplete(state, err)
	}
}

func (p *Pipe) ActivationState() ActivationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipe) IsReachable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachable
}

func (p *Pipe) IsCompanionAppInstalled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appInstalled
}

func (p *Pipe) NeedsUnlockAfterReboot() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.needsUnlock
}

// SendMessage runs the handler and waits for its reply or for ctx.
func (p *Pipe) SendMessage(ctx context.Context, payload []byte) ([]byte, error) {
	p.mu.Lock()
	ok := p.reachable && p.state == Activated
	p.mu.Unlock()
	if !ok {
		return nil, ErrNotReachable
	}
	p.sent.Add(1)

	replies := make(chan []byte, 1)
	var once sync.Once
	reply := func(b []byte) {
		once.Do(func() { replies <- b })
	}
	go p.handler.HandleMessage(ctx, payload, reply)

	select {
	case b := <-replies:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sent returns how many messages reached the handler.
func (p *Pipe) Sent() int {
	return int(p.sent.Load())
}

// SetReachable changes reachability and notifies the delegate on change.
func (p *Pipe) SetReachable(reachable bool) {
	p.mu.Lock()
	changed := p.reachable != reachable
	p.reachable = reachable
	d := p.delegate
	p.mu.Unlock()

	if changed && d != nil {
		d.ReachabilityDidChange(reachable)
	}
}

// SetActivationState overrides the activation state without callbacks.
func (p *Pipe) SetActivationState(state ActivationState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// SetActivationError makes the next Activate fail with err.
func (p *Pipe) SetActivationError(err error) {
	p.mu.Lock()
	p.activateErr = err
	p.mu.Unlock()
}

func (p *Pipe) SetCompanionAppInstalled(installed bool) {
	p.mu.Lock()
	p.appInstalled = installed
	p.mu.Unlock()
}

func (p *Pipe) SetNeedsUnlockAfterReboot(needs bool) {
	p.mu.Lock()
	p.needsUnlock = needs
	p.mu.Unlock()
}

// Notify delivers a host push to the delegate.
func (p *Pipe) Notify(payload []byte) error {
	p.mu.Lock()
	ok := p.reachable && p.state == Activated
	d := p.delegate
	p.mu.Unlock()
	if !ok {
		return ErrNotReachable
	}
	if d != nil {
		d.DidReceiveNotification(payload)
	}
	return nil
}
