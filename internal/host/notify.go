package host

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cbnote/cbnote/internal/events"
	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/metrics"
	"github.com/cbnote/cbnote/internal/transport"
	"github.com/cbnote/cbnote/pkg/protocol"
)

// Pusher delivers a notification payload to the companion.
type Pusher interface {
	Notify(payload []byte) error
}

// ForwardChanges turns document events into DirectoryChanged notifications
// until ctx is done or changes is closed. Events arriving within window of
// the first pending one are coalesced into one notification per directory.
func ForwardChanges(ctx context.Context, changes <-chan events.Event, pusher Pusher, window time.Duration) {
	pending := make(map[string]struct{})
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			pending[ev.Directory] = struct{}{}
			if fire == nil {
				fire = time.After(window)
			}
		case <-fire:
			fire = nil
			dirs := make([]string, 0, len(pending))
			for d := range pending {
				dirs = append(dirs, d)
			}
			clear(pending)
			sort.Strings(dirs)
			for _, d := range dirs {
				push(pusher, protocol.DirectoryChanged{Directory: d})
			}
		}
	}
}

func push(pusher Pusher, n protocol.Notification) {
	data, err := protocol.EncodeNotification(n)
	if err != nil {
		logging.Error("failed to encode notification", zap.Error(err))
		return
	}
	if err := pusher.Notify(data); err != nil {
		if !errors.Is(err, transport.ErrNotReachable) {
			logging.Warn("notification not delivered", zap.String("type", n.Tag()), zap.Error(err))
		}
		return
	}
	metrics.RecordNotification(n.Tag())
}
