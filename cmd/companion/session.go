package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cbnote/cbnote/internal/companion"
	"github.com/cbnote/cbnote/internal/config"
	"github.com/cbnote/cbnote/internal/locale"
	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/transport"
	"github.com/cbnote/cbnote/pkg/retry"
)

// readyTimeout bounds how long a command waits for the first directory list.
const readyTimeout = 15 * time.Second

type session struct {
	client *transport.Client
	conn   *companion.Connector
}

// connect activates a session and waits until the activation hook has
// loaded the directory list.
func connect(ctx context.Context) (*session, error) {
	cfg, err := config.LoadCompanion()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: "stderr",
		Service:    "cbnote",
	}); err != nil {
		return nil, err
	}

	client := transport.NewClient(transport.ClientOptions{
		URL:       cfg.HostURL,
		Token:     cfg.PairingToken,
		Reconnect: retry.DefaultConfig(),
	})
	conn := companion.New(client, companion.Options{
		RecheckDelay:   cfg.RecheckDelay,
		RequestTimeout: cfg.RequestTimeout,
		Localizer:      locale.New(cfg.Language),
	})
	s := &session{client: client, conn: conn}

	states := conn.Subscribe()
	defer conn.Unsubscribe(states)
	conn.Start(ctx)

	timeout := time.NewTimer(readyTimeout)
	defer timeout.Stop()
	for {
		select {
		case st := <-states:
			if st.ShowError {
				s.Close()
				return nil, errors.New(st.ErrorMessage)
			}
			if len(st.Directories) > 0 && !st.IsLoading {
				return s, nil
			}
		case <-timeout.C:
			s.Close()
			return nil, fmt.Errorf("host did not answer within %s", readyTimeout)
		case <-ctx.Done():
			s.Close()
			return nil, ctx.Err()
		}
	}
}

// failure prefers the message the connector surfaced over the raw error.
func (s *session) failure(err error) error {
	if st := s.conn.State(); st.ShowError {
		return errors.New(st.ErrorMessage)
	}
	return err
}

func (s *session) Close() {
	s.conn.Stop()
	s.client.Close()
	logging.Sync()
}
