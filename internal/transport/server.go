package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/metrics"
)

// Server is the host's end of the WebSocket link. It accepts one companion
// at a time; a new connection replaces the previous one.
type Server struct {
	handler  MessageHandler
	pairing  *Pairing
	upgrader websocket.Upgrader

	mu     sync.Mutex
	link   *link
	status Status
	closed bool
}

// NewServer creates a Server dispatching inbound messages to handler.
func NewServer(handler MessageHandler, pairing *Pairing) *Server {
	return &Server{
		handler: handler,
		pairing: pairing,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Companions are not browsers; the pairing token authenticates.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		status: Status{AppInstalled: true},
	}
}

// ServeHTTP authenticates the pairing token and upgrades the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logging.WithContext(r.Context())

	token := extractToken(r)
	if token == "" {
		metrics.RecordSessionRejected("missing_token")
		http.Error(w, "missing pairing token", http.StatusUnauthorized)
		return
	}
	claims, err := s.pairing.Validate(token)
	if err != nil {
		metrics.RecordSessionRejected("invalid_token")
		log.Warn("pairing token rejected", zap.Error(err))
		http.Error(w, "invalid pairing token", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	l := newLink(uuid.NewString(), claims.Companion, conn)
	s.attach(l)

	go l.writePump()
	s.readPump(l)
}

func (s *Server) attach(l *link) {
	s.mu.Lock()
	prev := s.link
	s.link = l
	status := s.status
	s.mu.Unlock()

	if prev != nil {
		logging.Info("companion link replaced",
			zap.String("previous", prev.id), zap.String("link_id", l.id))
		prev.close()
	}
	metrics.SetSessionsActive(1)
	logging.Info("companion connected", zap.String("link_id", l.id), zap.String("companion", l.companion))
	l.send(Envelope{Kind: KindStatus, Status: &status})
}

func (s *Server) detach(l *link) {
	s.mu.Lock()
	if s.link == l {
		s.link = nil
		metrics.SetSessionsActive(0)
	}
	s.mu.Unlock()
	l.close()
	logging.Info("companion disconnected", zap.String("link_id", l.id))
}

func (s *Server) readPump(l *link) {
	defer s.detach(l)

	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn("websocket read error", zap.String("link_id", l.id), zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			metrics.RecordTransportFailure()
			logging.Warn("malformed envelope", zap.String("link_id", l.id), zap.Error(err))
			continue
		}
		if env.Kind != KindMessage || env.ID == "" {
			logging.Debug("ignoring envelope", zap.String("kind", env.Kind))
			continue
		}
		go s.dispatch(l, env)
	}
}

func (s *Server) dispatch(l *link, env Envelope) {
	ctx := logging.WithCorrelationID(l.ctx, env.ID)
	var once sync.Once
	s.handler.HandleMessage(ctx, env.Payload, func(payload []byte) {
		once.Do(func() {
			l.send(Envelope{ID: env.ID, Kind: KindReply, Payload: payload})
		})
	})
}

// Notify pushes a payload to the connected companion.
func (s *Server) Notify(payload []byte) error {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return ErrNotReachable
	}
	if !l.send(Envelope{Kind: KindNotify, Payload: payload}) {
		return ErrNotReachable
	}
	return nil
}

// Connected reports whether a companion link is open.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil
}

// SetLocked marks the host as needing an unlock after reboot and pushes the
// new status to the companion.
func (s *Server) SetLocked(locked bool) {
	s.mu.Lock()
	s.status.NeedsUnlock = locked
	status := s.status
	l := s.link
	s.mu.Unlock()

	if l != nil {
		l.send(Envelope{Kind: KindStatus, Status: &status})
	}
}

// Close disconnects the companion and refuses new connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	l := s.link
	s.link = nil
	s.mu.Unlock()
	if l != nil {
		l.close()
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// link is one accepted companion connection.
type link struct {
	id        string
	companion string
	conn      *websocket.Conn
	out       chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newLink(id, companion string, conn *websocket.Conn) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		id:        id,
		companion: companion,
		conn:      conn,
		out:       make(chan []byte, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// send queues an envelope, dropping it when the link is gone or backed up.
func (l *link) send(env Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error("failed to marshal envelope", zap.Error(err))
		return false
	}
	select {
	case <-l.ctx.Done():
		return false
	default:
	}
	select {
	case l.out <- data:
		return true
	case <-l.ctx.Done():
		return false
	default:
		metrics.RecordTransportFailure()
		logging.Warn("link send buffer full", zap.String("link_id", l.id))
		return false
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		l.cancel()
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		l.conn.Close()
	})
}

func (l *link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.close()
	}()

	for {
		select {
		case data := <-l.out:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}
