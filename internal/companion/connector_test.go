package companion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnote/cbnote/internal/locale"
	"github.com/cbnote/cbnote/internal/transport"
	"github.com/cbnote/cbnote/pkg/protocol"
)

// fakeHost answers requests from canned data.
type fakeHost struct {
	mu      sync.Mutex
	dirs    []protocol.DirectoryRef
	files   map[string]protocol.FileList
	content map[string]protocol.FileContent
	delay   map[string]time.Duration
	silent  bool
	garbage bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		dirs: []protocol.DirectoryRef{{ID: "onDevice", Name: "On Device", Icon: "iphone"}},
		files: map[string]protocol.FileList{
			"onDevice": {
				Pinned:   []protocol.FileSummary{{ID: "onDevice/a.txt", Name: "a.txt", Icon: "doc.text", IsPinned: true}},
				Unpinned: []protocol.FileSummary{{ID: "onDevice/b.png", Name: "b.png", Icon: "photo"}},
			},
		},
		content: map[string]protocol.FileContent{
			"onDevice/a.txt": protocol.TextContent{Text: "hello"},
		},
		delay: map[string]time.Duration{},
	}
}

func (h *fakeHost) setFiles(dir string, list protocol.FileList) {
	h.mu.Lock()
	h.files[dir] = list
	h.mu.Unlock()
}

func (h *fakeHost) HandleMessage(ctx context.Context, payload []byte, reply transport.ReplyFunc) {
	h.mu.Lock()
	silent, garbage := h.silent, h.garbage
	h.mu.Unlock()
	if silent {
		return
	}
	if garbage {
		reply([]byte("{"))
		return
	}

	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		data, _ := protocol.EncodeResponse(protocol.ErrorResponse{Message: "Could not decode request"})
		reply(data)
		return
	}

	var resp protocol.Response
	switch r := req.(type) {
	case protocol.GetDirectoryList:
		resp = protocol.DirectoryList{Directories: h.dirs}
	case protocol.GetFileList:
		h.mu.Lock()
		d := h.delay[r.Directory]
		list, ok := h.files[r.Directory]
		h.mu.Unlock()
		if d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}
		if ok {
			resp = list
		} else {
			resp = protocol.ErrorResponse{Message: "Invalid directory"}
		}
	case protocol.GetFileContent:
		if c, ok := h.content[r.Directory+"/"+r.FileName]; ok {
			resp = protocol.FileContentResponse{Content: c}
		} else {
			resp = protocol.FileContentResponse{Content: protocol.UnsupportedContent{}}
		}
	}
	data, _ := protocol.EncodeResponse(resp)
	reply(data)
}

func newConnector(t *testing.T, h transport.MessageHandler, opts Options) (*Connector, *transport.Pipe) {
	t.Helper()
	if opts.RecheckDelay == 0 {
		opts.RecheckDelay = 20 * time.Millisecond
	}
	if opts.Localizer == nil {
		opts.Localizer = locale.New("en")
	}
	pipe := transport.NewPipe(h)
	c := New(pipe, opts)
	t.Cleanup(c.Stop)
	return c, pipe
}

// runActivated starts the main queue on an already activated pipe, without
// the activation hook.
func runActivated(c *Connector, pipe *transport.Pipe) {
	pipe.SetActivationState(transport.Activated)
	go c.queue.Run()
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
	var zero T
	return zero
}

func TestFetchDirectories(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	runActivated(c, pipe)

	require.NoError(t, await(t, c.FetchDirectories(context.Background())))

	st := c.State()
	require.Len(t, st.Directories, 1)
	assert.Equal(t, "onDevice", st.Directories[0].ID)
	assert.False(t, st.IsLoading)
	assert.False(t, st.ShowError)
	assert.Equal(t, 1, pipe.Sent())
}

func TestFetchDirectories_UnreachableSendsNothing(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	runActivated(c, pipe)
	require.NoError(t, await(t, c.FetchDirectories(context.Background())))
	before := c.State().Directories

	pipe.SetReachable(false)
	err := await(t, c.FetchDirectories(context.Background()))
	assert.ErrorIs(t, err, ErrCannotConnect)

	st := c.State()
	assert.Equal(t, before, st.Directories)
	assert.Equal(t, "Cannot connect to iPhone.", st.ErrorMessage)
	assert.True(t, st.ShowError)
	assert.False(t, st.IsLoading)
	assert.Equal(t, 1, pipe.Sent())
}

func TestConnectability_UnreachableWinsOverNotActivated(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	pipe.SetReachable(false)
	go c.queue.Run()

	err := await(t, c.FetchDirectories(context.Background()))
	assert.ErrorIs(t, err, ErrCannotConnect)
	assert.Equal(t, "Cannot connect to iPhone.", c.State().ErrorMessage)
	assert.Zero(t, pipe.Sent())
}

func TestConnectability_RecoveryDuringRecheck(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{RecheckDelay: 200 * time.Millisecond})
	pipe.SetActivationState(transport.Activated)
	pipe.SetReachable(false)
	go c.queue.Run()

	out := c.FetchDirectories(context.Background())
	require.Eventually(t, func() bool { return c.State().IsLoading }, time.Second, time.Millisecond)
	pipe.SetReachable(true)

	// The dropped request reports the failure, but nothing is shown.
	assert.ErrorIs(t, await(t, out), ErrCannotConnect)
	assert.False(t, c.State().ShowError)

	// The reachability hook refetches on its own.
	assert.Eventually(t, func() bool {
		return len(c.State().Directories) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, pipe.Sent())
}

func TestConnectability_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*transport.Pipe)
		wantErr error
		wantMsg string
	}{
		{
			name:    "needs unlock",
			setup:   func(p *transport.Pipe) { p.SetNeedsUnlockAfterReboot(true) },
			wantErr: ErrNeedsUnlock,
			wantMsg: "iPhone needs to be unlocked after reboot.",
		},
		{
			name:    "app not installed",
			setup:   func(p *transport.Pipe) { p.SetCompanionAppInstalled(false) },
			wantErr: ErrAppNotInstalled,
			wantMsg: "Companion app is not installed on iPhone.",
		},
		{
			name:    "not activated",
			setup:   func(p *transport.Pipe) { p.SetActivationState(transport.Inactive) },
			wantErr: ErrNotActivated,
			wantMsg: "Connection is not activated.",
		},
		{
			name: "unlock checked before install",
			setup: func(p *transport.Pipe) {
				p.SetNeedsUnlockAfterReboot(true)
				p.SetCompanionAppInstalled(false)
			},
			wantErr: ErrNeedsUnlock,
			wantMsg: "iPhone needs to be unlocked after reboot.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, pipe := newConnector(t, newFakeHost(), Options{})
			pipe.SetActivationState(transport.Activated)
			tt.setup(pipe)
			go c.queue.Run()

			err := await(t, c.FetchDirectories(context.Background()))
			assert.ErrorIs(t, err, tt.wantErr)

			st := c.State()
			assert.Equal(t, tt.wantMsg, st.ErrorMessage)
			assert.True(t, st.ShowError)
			assert.False(t, st.IsLoading)
			assert.Empty(t, st.Directories)
			assert.Zero(t, pipe.Sent())
		})
	}
}

func TestConnectability_Localized(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{Localizer: locale.New("ja")})
	pipe.SetActivationState(transport.Activated)
	pipe.SetCompanionAppInstalled(false)
	go c.queue.Run()

	await(t, c.FetchDirectories(context.Background()))
	assert.Equal(t, "iPhoneにAppがインストールされていません。", c.State().ErrorMessage)
}

func TestStart_ActivationFetchesDirectories(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	c.Start(context.Background())

	assert.Eventually(t, func() bool {
		return len(c.State().Directories) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, transport.Activated, pipe.ActivationState())
}

func TestStart_ActivationErrorSurfaced(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	pipe.SetActivationError(errors.New("pairing rejected"))
	c.Start(context.Background())

	assert.Eventually(t, func() bool {
		return c.State().ErrorMessage == "pairing rejected"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, pipe.Sent())
}

func TestFetchFiles(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	runActivated(c, pipe)

	require.NoError(t, await(t, c.FetchFiles(context.Background(), "onDevice")))

	st := c.State()
	assert.Equal(t, "onDevice", st.CurrentDirectoryID)
	require.Len(t, st.PinnedFiles, 1)
	require.Len(t, st.UnpinnedFiles, 1)
	assert.Equal(t, "a.txt", st.PinnedFiles[0].Name)
	assert.Equal(t, "b.png", st.UnpinnedFiles[0].Name)
}

func TestFetchFiles_HostError(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	runActivated(c, pipe)

	err := await(t, c.FetchFiles(context.Background(), "nowhere"))
	assert.ErrorIs(t, err, ErrHost)

	st := c.State()
	assert.Equal(t, "Invalid directory", st.ErrorMessage)
	assert.True(t, st.ShowError)
	assert.Empty(t, st.PinnedFiles)
}

func TestFetchFiles_StaleReplyDiscarded(t *testing.T) {
	h := newFakeHost()
	h.setFiles("slow", protocol.FileList{
		Pinned:   []protocol.FileSummary{},
		Unpinned: []protocol.FileSummary{{ID: "slow/old.txt", Name: "old.txt", Icon: "doc.text"}},
	})
	h.delay["slow"] = 150 * time.Millisecond

	c, pipe := newConnector(t, h, Options{})
	runActivated(c, pipe)

	slow := c.FetchFiles(context.Background(), "slow")
	fast := c.FetchFiles(context.Background(), "onDevice")

	require.NoError(t, await(t, fast))
	assert.ErrorIs(t, await(t, slow), ErrStale)

	st := c.State()
	assert.Equal(t, "onDevice", st.CurrentDirectoryID)
	require.Len(t, st.UnpinnedFiles, 1)
	assert.Equal(t, "b.png", st.UnpinnedFiles[0].Name)
	assert.False(t, st.IsLoading)
}

func TestFetchFileContent(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	runActivated(c, pipe)
	require.NoError(t, await(t, c.FetchFiles(context.Background(), "onDevice")))

	content := await(t, c.FetchFileContent(context.Background(), "a.txt"))
	assert.Equal(t, protocol.TextContent{Text: "hello"}, content)

	content = await(t, c.FetchFileContent(context.Background(), "b.png"))
	assert.Equal(t, protocol.UnsupportedContent{}, content)
}

func TestFetchFileContent_NoDirectory(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	runActivated(c, pipe)

	select {
	case v, ok := <-c.FetchFileContent(context.Background(), "a.txt"):
		assert.False(t, ok)
		assert.Nil(t, v)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
	assert.Zero(t, pipe.Sent())
}

func TestFetchFileContent_FailureYieldsNil(t *testing.T) {
	h := newFakeHost()
	c, pipe := newConnector(t, h, Options{RequestTimeout: 50 * time.Millisecond})
	runActivated(c, pipe)
	require.NoError(t, await(t, c.FetchFiles(context.Background(), "onDevice")))

	h.mu.Lock()
	h.silent = true
	h.mu.Unlock()

	ch := c.FetchFileContent(context.Background(), "a.txt")
	v, ok := <-ch
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestTransportFailureSurfacesGenericMessage(t *testing.T) {
	h := newFakeHost()
	h.silent = true
	c, pipe := newConnector(t, h, Options{RequestTimeout: 50 * time.Millisecond})
	runActivated(c, pipe)

	err := await(t, c.FetchDirectories(context.Background()))
	assert.ErrorIs(t, err, ErrTransport)

	st := c.State()
	assert.Equal(t, "Could not communicate with iPhone.", st.ErrorMessage)
	assert.False(t, st.IsLoading)
}

func TestInvalidResponseSurfaced(t *testing.T) {
	h := newFakeHost()
	h.garbage = true
	c, pipe := newConnector(t, h, Options{})
	runActivated(c, pipe)

	err := await(t, c.FetchDirectories(context.Background()))
	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, "Received an invalid response from iPhone.", c.State().ErrorMessage)
}

func TestNotificationRefreshesCurrentDirectory(t *testing.T) {
	h := newFakeHost()
	c, pipe := newConnector(t, h, Options{})
	runActivated(c, pipe)
	require.NoError(t, await(t, c.FetchFiles(context.Background(), "onDevice")))
	sent := pipe.Sent()

	h.setFiles("onDevice", protocol.FileList{
		Pinned:   []protocol.FileSummary{},
		Unpinned: []protocol.FileSummary{{ID: "onDevice/new.txt", Name: "new.txt", Icon: "doc.text"}},
	})

	other, err := protocol.EncodeNotification(protocol.DirectoryChanged{Directory: "iCloud"})
	require.NoError(t, err)
	require.NoError(t, pipe.Notify(other))

	payload, err := protocol.EncodeNotification(protocol.DirectoryChanged{Directory: "onDevice"})
	require.NoError(t, err)
	require.NoError(t, pipe.Notify(payload))

	assert.Eventually(t, func() bool {
		st := c.State()
		return len(st.UnpinnedFiles) == 1 && st.UnpinnedFiles[0].Name == "new.txt"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sent+1, pipe.Sent())
}

func TestDismissError(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	runActivated(c, pipe)
	await(t, c.FetchFiles(context.Background(), "nowhere"))
	require.True(t, c.State().ShowError)

	c.DismissError()
	assert.Eventually(t, func() bool {
		st := c.State()
		return !st.ShowError && st.ErrorMessage == ""
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	c, pipe := newConnector(t, newFakeHost(), Options{})
	ch := c.Subscribe()
	defer c.Unsubscribe(ch)
	runActivated(c, pipe)

	require.NoError(t, await(t, c.FetchDirectories(context.Background())))

	var last State
	for {
		select {
		case st := <-ch:
			last = st
			continue
		default:
		}
		break
	}
	assert.Len(t, last.Directories, 1)
	assert.False(t, last.IsLoading)
}

func TestStoppedConnector(t *testing.T) {
	c, _ := newConnector(t, newFakeHost(), Options{})
	c.Stop()

	assert.ErrorIs(t, await(t, c.FetchDirectories(context.Background())), ErrStopped)
	_, ok := <-c.FetchFileContent(context.Background(), "a.txt")
	assert.False(t, ok)
}
