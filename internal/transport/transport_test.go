package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnote/cbnote/pkg/retry"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type activation struct {
	state ActivationState
	err   error
}

type recordingDelegate struct {
	activations   chan activation
	reachability  chan bool
	notifications chan []byte
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{
		activations:   make(chan activation, 4),
		reachability:  make(chan bool, 16),
		notifications: make(chan []byte, 16),
	}
}

func (d *recordingDelegate) ActivationDidComplete(state ActivationState, err error) {
	d.activations <- activation{state, err}
}

func (d *recordingDelegate) ReachabilityDidChange(reachable bool) {
	d.reachability <- reachable
}

func (d *recordingDelegate) DidReceiveNotification(payload []byte) {
	d.notifications <- payload
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
		var zero T
		return zero
	}
}

var echo = MessageHandlerFunc(func(_ context.Context, payload []byte, reply ReplyFunc) {
	reply(append([]byte("echo:"), payload...))
	reply([]byte("second reply is ignored"))
})

// ─── Pairing ────────────────────────────────────────────────────────────────

func TestPairing_IssueAndValidate(t *testing.T) {
	p := NewPairing(testSecret)
	token, err := p.IssueToken("watch", time.Hour)
	require.NoError(t, err)

	claims, err := p.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "watch", claims.Companion)
}

func TestPairing_Rejects(t *testing.T) {
	p := NewPairing(testSecret)

	other, err := NewPairing("another-secret-of-enough-length").IssueToken("watch", 0)
	require.NoError(t, err)
	_, err = p.Validate(other)
	assert.Error(t, err, "wrong secret")

	claims := PairingClaims{
		Companion: "watch",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    pairingIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = p.Validate(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = p.Validate("not-a-token")
	assert.Error(t, err)
}

// ─── Pipe ───────────────────────────────────────────────────────────────────

func TestPipe_RequiresActivationAndReachability(t *testing.T) {
	p := NewPipe(echo)
	_, err := p.SendMessage(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotReachable)

	d := newRecordingDelegate()
	p.SetDelegate(d)
	p.Activate(context.Background())
	assert.Equal(t, activation{Activated, nil}, waitFor(t, d.activations))

	reply, err := p.SendMessage(context.Background(), []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(reply))

	p.SetReachable(false)
	assert.False(t, waitFor(t, d.reachability))
	_, err = p.SendMessage(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotReachable)
	assert.Equal(t, 1, p.Sent())
}

func TestPipe_ActivationError(t *testing.T) {
	p := NewPipe(echo)
	d := newRecordingDelegate()
	p.SetDelegate(d)
	p.SetActivationError(errors.New("watch app unavailable"))
	p.Activate(context.Background())

	got := waitFor(t, d.activations)
	assert.Equal(t, NotActivated, got.state)
	assert.EqualError(t, got.err, "watch app unavailable")
}

func TestPipe_NoReplyWaitsForContext(t *testing.T) {
	silent := MessageHandlerFunc(func(context.Context, []byte, ReplyFunc) {})
	p := NewPipe(silent)
	p.SetActivationState(Activated)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.SendMessage(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ─── WebSocket ──────────────────────────────────────────────────────────────

func startServer(t *testing.T, handler MessageHandler) (*Server, string) {
	t.Helper()
	srv := NewServer(handler, NewPairing(testSecret))
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newClient(t *testing.T, url, token string, wait time.Duration) (*Client, *recordingDelegate) {
	t.Helper()
	c := NewClient(ClientOptions{
		URL:       url,
		Token:     token,
		Reconnect: retry.Config{InitialWait: wait, MaxWait: wait, Multiplier: 1},
	})
	d := newRecordingDelegate()
	c.SetDelegate(d)
	t.Cleanup(func() { c.Close() })
	return c, d
}

func pairToken(t *testing.T) string {
	t.Helper()
	token, err := NewPairing(testSecret).IssueToken("watch", time.Hour)
	require.NoError(t, err)
	return token
}

func TestWebSocket_RoundTrip(t *testing.T) {
	srv, url := startServer(t, echo)
	c, d := newClient(t, url, pairToken(t), 20*time.Millisecond)

	c.Activate(context.Background())
	assert.Equal(t, activation{Activated, nil}, waitFor(t, d.activations))
	assert.True(t, c.IsReachable())
	assert.True(t, c.IsCompanionAppInstalled())
	assert.False(t, c.NeedsUnlockAfterReboot())

	reply, err := c.SendMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(reply))

	require.NoError(t, srv.Notify([]byte("changed")))
	assert.Equal(t, "changed", string(waitFor(t, d.notifications)))

	srv.SetLocked(true)
	require.Eventually(t, c.NeedsUnlockAfterReboot, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocket_ConcurrentCallsAreCorrelated(t *testing.T) {
	slowFirst := MessageHandlerFunc(func(_ context.Context, payload []byte, reply ReplyFunc) {
		if string(payload) == "slow" {
			time.Sleep(100 * time.Millisecond)
		}
		reply(payload)
	})
	_, url := startServer(t, slowFirst)
	c, d := newClient(t, url, pairToken(t), 20*time.Millisecond)
	c.Activate(context.Background())
	waitFor(t, d.activations)

	slow := make(chan string, 1)
	go func() {
		reply, _ := c.SendMessage(context.Background(), []byte("slow"))
		slow <- string(reply)
	}()
	time.Sleep(10 * time.Millisecond)
	reply, err := c.SendMessage(context.Background(), []byte("fast"))
	require.NoError(t, err)
	assert.Equal(t, "fast", string(reply))
	assert.Equal(t, "slow", waitFor(t, slow))
}

func TestWebSocket_Unauthorized(t *testing.T) {
	_, url := startServer(t, echo)
	bad, err := NewPairing("some-other-secret-0123456789").IssueToken("watch", 0)
	require.NoError(t, err)

	c, d := newClient(t, url, bad, 20*time.Millisecond)
	c.Activate(context.Background())

	got := waitFor(t, d.activations)
	assert.Equal(t, NotActivated, got.state)
	assert.ErrorIs(t, got.err, ErrUnauthorized)
	assert.Equal(t, NotActivated, c.ActivationState())
}

func TestWebSocket_HostDownStillActivates(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	c, d := newClient(t, url, pairToken(t), time.Hour)
	c.Activate(context.Background())

	assert.Equal(t, activation{Activated, nil}, waitFor(t, d.activations))
	assert.False(t, c.IsReachable())
	_, err := c.SendMessage(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotReachable)
}

func TestWebSocket_NewLinkReplacesOld(t *testing.T) {
	srv, url := startServer(t, echo)

	first, d1 := newClient(t, url, pairToken(t), time.Hour)
	first.Activate(context.Background())
	waitFor(t, d1.activations)

	second, d2 := newClient(t, url, pairToken(t), time.Hour)
	second.Activate(context.Background())
	waitFor(t, d2.activations)

	assert.False(t, waitFor(t, d1.reachability))
	assert.True(t, srv.Connected())

	reply, err := second.SendMessage(context.Background(), []byte("still here"))
	require.NoError(t, err)
	assert.Equal(t, "echo:still here", string(reply))
}
