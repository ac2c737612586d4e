// Package companion implements the requesting side of the link: it checks
// that the host can be reached, issues typed requests and applies the
// replies to a single observable State.
package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cbnote/cbnote/internal/events"
	"github.com/cbnote/cbnote/internal/locale"
	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/metrics"
	"github.com/cbnote/cbnote/internal/transport"
	"github.com/cbnote/cbnote/pkg/protocol"
)

// Connectability failures. The request that triggered the check is dropped.
var (
	ErrCannotConnect   = errors.New("host not reachable")
	ErrNeedsUnlock     = errors.New("host needs unlock after reboot")
	ErrAppNotInstalled = errors.New("host app not installed")
	ErrNotActivated    = errors.New("session not activated")
)

var (
	// ErrTransport wraps a failed send or a missing reply.
	ErrTransport = errors.New("could not communicate with host")
	// ErrInvalidResponse wraps a reply that could not be decoded.
	ErrInvalidResponse = errors.New("invalid response from host")
	// ErrHost wraps the message of an ErrorResponse.
	ErrHost = errors.New("host error")
	// ErrUnexpectedResponse is returned when the reply variant does not
	// answer the request.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrStale is returned for a file list reply overtaken by a newer
	// FetchFiles call. The reply is discarded.
	ErrStale = errors.New("stale reply")
	// ErrStopped is returned when the connector has been stopped.
	ErrStopped = errors.New("connector stopped")
)

// State is what the presentation layer observes.
type State struct {
	Directories        []protocol.DirectoryRef
	CurrentDirectoryID string
	PinnedFiles        []protocol.FileSummary
	UnpinnedFiles      []protocol.FileSummary
	IsLoading          bool
	ErrorMessage       string
	ShowError          bool
}

func (s State) clone() State {
	s.Directories = append([]protocol.DirectoryRef(nil), s.Directories...)
	s.PinnedFiles = append([]protocol.FileSummary(nil), s.PinnedFiles...)
	s.UnpinnedFiles = append([]protocol.FileSummary(nil), s.UnpinnedFiles...)
	return s
}

// Options tunes a Connector. Zero values take the defaults.
type Options struct {
	RecheckDelay   time.Duration
	RequestTimeout time.Duration
	Localizer      *locale.Localizer
}

// Connector owns the companion State. Every mutation happens on its
// MainQueue; readers get copies through State or Subscribe.
type Connector struct {
	session transport.Session
	opts    Options
	loc     *locale.Localizer
	log     *zap.Logger
	queue   *MainQueue
	states  *events.Broadcaster[State]

	ctx    context.Context
	cancel context.CancelFunc

	// main queue only
	state      State
	inflight   int
	generation uint64

	snapMu   sync.RWMutex
	snapshot State
}

// New creates a connector for session and registers it as the session's
// delegate. Call Start to activate.
func New(session transport.Session, opts Options) *Connector {
	if opts.RecheckDelay <= 0 {
		opts.RecheckDelay = 2 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	loc := opts.Localizer
	if loc == nil {
		loc = locale.New()
	}
	c := &Connector{
		session: session,
		opts:    opts,
		loc:     loc,
		log:     logging.Named("companion"),
		queue:   NewMainQueue(),
		states:  events.NewBroadcaster[State]("companion_state", 16),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	session.SetDelegate(c)
	return c
}

// Start runs the main queue and activates the session. Lifecycle hooks
// fetch the directory list once activation completes.
func (c *Connector) Start(ctx context.Context) {
	go c.queue.Run()
	c.session.Activate(ctx)
}

// Stop cancels outstanding requests and stops the main queue. Outcomes not
// yet delivered are never delivered.
func (c *Connector) Stop() {
	c.cancel()
	c.queue.Stop()
}

// State returns a copy of the latest state.
func (c *Connector) State() State {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot.clone()
}

// Subscribe returns a channel receiving a copy of the state after each
// change. Slow subscribers miss intermediate states.
func (c *Connector) Subscribe() chan State {
	return c.states.Subscribe()
}

func (c *Connector) Unsubscribe(ch chan State) {
	c.states.Unsubscribe(ch)
}

// ─── Session delegate ───────────────────────────────────────────────────────

func (c *Connector) ActivationDidComplete(state transport.ActivationState, err error) {
	c.queue.Async(func() {
		if err != nil {
			c.log.Warn("Activation failed", zap.Error(err))
			c.setError(err.Error())
			return
		}
		c.log.Info("Activation completed", zap.Stringer("state", state))
		if state == transport.Activated {
			c.fetchDirectories(c.ctx, make(chan error, 1))
		}
	})
}

func (c *Connector) ReachabilityDidChange(reachable bool) {
	c.queue.Async(func() {
		c.log.Debug("Reachability changed", zap.Bool("reachable", reachable))
		if reachable {
			c.fetchDirectories(c.ctx, make(chan error, 1))
		}
	})
}

func (c *Connector) DidReceiveNotification(payload []byte) {
	n, err := protocol.DecodeNotification(payload)
	if err != nil {
		c.log.Warn("Dropping undecodable notification", zap.Error(err))
		return
	}
	c.queue.Async(func() {
		switch v := n.(type) {
		case protocol.DirectoryChanged:
			if v.Directory != "" && v.Directory == c.state.CurrentDirectoryID {
				c.fetchFiles(c.ctx, v.Directory, make(chan error, 1))
			}
		}
	})
}

// ─── Operations ─────────────────────────────────────────────────────────────

// FetchDirectories asks the host for its directories and replaces
// Directories on success. The channel yields once state has been applied.
func (c *Connector) FetchDirectories(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	if !c.queue.Async(func() { c.fetchDirectories(ctx, out) }) {
		out <- ErrStopped
	}
	return out
}

// FetchFiles selects directoryID and replaces the pinned and unpinned lists
// with the host's answer. A reply for an older call yields ErrStale and
// leaves state alone.
func (c *Connector) FetchFiles(ctx context.Context, directoryID string) <-chan error {
	out := make(chan error, 1)
	if !c.queue.Async(func() { c.fetchFiles(ctx, directoryID, out) }) {
		out <- ErrStopped
	}
	return out
}

// FetchFileContent asks for fileName in the current directory. The channel
// yields the content, or nil on any failure. It is closed without a value
// when no directory is selected.
func (c *Connector) FetchFileContent(ctx context.Context, fileName string) <-chan protocol.FileContent {
	out := make(chan protocol.FileContent, 1)
	if !c.queue.Async(func() { c.fetchFileContent(ctx, fileName, out) }) {
		close(out)
	}
	return out
}

// DismissError hides the current error message.
func (c *Connector) DismissError() {
	c.queue.Async(func() {
		c.state.ErrorMessage = ""
		c.state.ShowError = false
		c.publish()
	})
}

func (c *Connector) fetchDirectories(ctx context.Context, out chan<- error) {
	c.beginLoading()
	c.send(ctx, protocol.GetDirectoryList{}, func(resp protocol.Response, err error) {
		if err == nil {
			err = c.applyDirectories(resp)
		}
		c.endLoading()
		out <- err
	})
}

func (c *Connector) applyDirectories(resp protocol.Response) error {
	switch r := resp.(type) {
	case protocol.DirectoryList:
		c.state.Directories = r.Directories
		c.publish()
		return nil
	case protocol.ErrorResponse:
		c.setError(r.Message)
		return fmt.Errorf("%w: %s", ErrHost, r.Message)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedResponse, resp.Tag())
	}
}

func (c *Connector) fetchFiles(ctx context.Context, directoryID string, out chan<- error) {
	c.generation++
	gen := c.generation
	c.state.CurrentDirectoryID = directoryID
	c.publish()
	c.beginLoading()

	c.send(ctx, protocol.GetFileList{Directory: directoryID}, func(resp protocol.Response, err error) {
		switch {
		case gen != c.generation:
			c.log.Debug("Discarding stale file list", zap.String("directory", directoryID))
			err = ErrStale
		case err == nil:
			err = c.applyFiles(resp)
		}
		c.endLoading()
		out <- err
	})
}

func (c *Connector) applyFiles(resp protocol.Response) error {
	switch r := resp.(type) {
	case protocol.FileList:
		c.state.PinnedFiles = r.Pinned
		c.state.UnpinnedFiles = r.Unpinned
		c.publish()
		return nil
	case protocol.ErrorResponse:
		c.setError(r.Message)
		return fmt.Errorf("%w: %s", ErrHost, r.Message)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedResponse, resp.Tag())
	}
}

func (c *Connector) fetchFileContent(ctx context.Context, fileName string, out chan<- protocol.FileContent) {
	dir := c.state.CurrentDirectoryID
	if dir == "" {
		close(out)
		return
	}
	c.beginLoading()
	req := protocol.GetFileContent{Directory: dir, FileName: fileName}
	c.send(ctx, req, func(resp protocol.Response, err error) {
		var content protocol.FileContent
		if err == nil {
			switch r := resp.(type) {
			case protocol.FileContentResponse:
				content = r.Content
			case protocol.ErrorResponse:
				c.setError(r.Message)
			}
		}
		c.endLoading()
		out <- content
	})
}

// send checks connectability, then sends req off the main queue. done is
// called exactly once, on the main queue, unless the connector stops first.
// Connectability, transport and decode failures are already surfaced when
// done sees them.
func (c *Connector) send(ctx context.Context, req protocol.Request, done func(protocol.Response, error)) {
	c.checkConnectability(func(err error) {
		if err != nil {
			done(nil, err)
			return
		}
		payload, err := protocol.EncodeRequest(req)
		if err != nil {
			done(nil, err)
			return
		}

		go func() {
			rctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
			defer cancel()

			start := time.Now()
			resp, err := c.roundTrip(rctx, payload)
			if err != nil {
				c.log.Warn("Request failed",
					zap.String("request", req.Tag()),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err),
				)
			}
			c.queue.Async(func() {
				switch {
				case errors.Is(err, ErrTransport):
					c.setError(c.loc.String(locale.CommunicationFailed))
				case errors.Is(err, ErrInvalidResponse):
					c.setError(c.loc.String(locale.InvalidResponse))
				}
				done(resp, err)
			})
		}()
	})
}

func (c *Connector) roundTrip(ctx context.Context, payload []byte) (protocol.Response, error) {
	raw, err := c.session.SendMessage(ctx, payload)
	if err != nil {
		metrics.RecordTransportFailure()
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return resp, nil
}

// checkConnectability runs on the main queue and calls then once, also on
// the main queue. Unreachable and not-activated sessions get one delayed
// recheck that only decides whether the failure is shown.
func (c *Connector) checkConnectability(then func(error)) {
	s := c.session
	switch {
	case !s.IsReachable():
		c.recheck(s.IsReachable, ErrCannotConnect, locale.CannotConnect, "unreachable", then)
	case s.NeedsUnlockAfterReboot():
		c.connectFailed(locale.NeedsUnlock, "needs_unlock")
		then(ErrNeedsUnlock)
	case !s.IsCompanionAppInstalled():
		c.connectFailed(locale.AppNotInstalled, "app_not_installed")
		then(ErrAppNotInstalled)
	case s.ActivationState() != transport.Activated:
		activated := func() bool { return s.ActivationState() == transport.Activated }
		c.recheck(activated, ErrNotActivated, locale.NotActivated, "not_activated", then)
	default:
		then(nil)
	}
}

func (c *Connector) recheck(ok func() bool, err error, key locale.Key, reason string, then func(error)) {
	c.queue.AsyncAfter(c.opts.RecheckDelay, func() {
		if !ok() {
			c.connectFailed(key, reason)
		}
		then(err)
	})
}

func (c *Connector) connectFailed(key locale.Key, reason string) {
	metrics.RecordConnectabilityFailure(reason)
	c.setError(c.loc.String(key))
}

// ─── State helpers (main queue only) ────────────────────────────────────────

func (c *Connector) setError(msg string) {
	c.state.ErrorMessage = msg
	c.state.ShowError = true
	c.publish()
}

func (c *Connector) beginLoading() {
	c.inflight++
	if !c.state.IsLoading {
		c.state.IsLoading = true
		c.publish()
	}
}

func (c *Connector) endLoading() {
	if c.inflight > 0 {
		c.inflight--
	}
	if c.inflight == 0 && c.state.IsLoading {
		c.state.IsLoading = false
		c.publish()
	}
}

func (c *Connector) publish() {
	snap := c.state.clone()
	c.snapMu.Lock()
	c.snapshot = snap
	c.snapMu.Unlock()
	c.states.Publish(snap.clone())
}
