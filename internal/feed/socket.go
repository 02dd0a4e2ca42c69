package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"polymarket-feed/internal/metrics"
)

const (
	heartbeatMin = 15 * time.Second // lower bound for the PING interval
	heartbeatMax = 25 * time.Second // upper bound for the PING interval
	readTimeout  = 90 * time.Second // silent server triggers a reconnect
	writeTimeout = 10 * time.Second // deadline for outgoing messages
)

var (
	pingFrame = []byte("PING")
	pongFrame = []byte("PONG")
)

const (
	channelMarket = "market"
	channelUser   = "user"
)

// channelPolicy is everything channel-specific a socket needs: the endpoint
// path, the wire payloads, and what to do with inbound frames. The market and
// user channels each provide one implementation.
type channelPolicy interface {
	name() string
	path() string
	subscribeMessage(keys []string) any
	updateMessage(keys []string) any
	handleFrame(g *Group, data []byte)
	onOpen(groupID string, keys []string)
	onClose(groupID string, code int, reason string)
	onError(err error)
	onRemovedKeys(keys []string)
	onCleared()
}

// groupSocket serves exactly one WebSocket connection for one group. A
// reconnect gets a fresh socket; the replacement swaps itself into the group
// and closes its predecessor, so callbacks from a dead connection can never
// interleave with the replacement's.
type groupSocket struct {
	g       *Group
	url     string
	policy  channelPolicy
	gate    DialLimiter
	metrics *metrics.Feed
	logger  *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn writes and close

	done      chan struct{}
	closeOnce sync.Once
}

func newGroupSocket(g *Group, url string, policy channelPolicy, gate DialLimiter, m *metrics.Feed, logger *slog.Logger) *groupSocket {
	return &groupSocket{
		g:       g,
		url:     url,
		policy:  policy,
		gate:    gate,
		metrics: m,
		logger:  logger.With("group", g.ID),
		done:    make(chan struct{}),
	}
}

// heartbeatInterval jitters the PING cadence so a fleet of sockets opened in
// the same burst does not ping in lockstep.
func heartbeatInterval() time.Duration {
	return heartbeatMin + time.Duration(rand.Int63n(int64(heartbeatMax-heartbeatMin)))
}

// run dials, subscribes, and reads until the connection drops or the group
// empties. It is the socket's entire lifetime; it never reconnects itself —
// the reaper redials dead groups with a fresh socket.
func (s *groupSocket) run(ctx context.Context) {
	if s.g.shouldCleanup() {
		s.g.setStatus(StatusCleanup)
		return
	}

	release, err := s.gate.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.markDead(fmt.Errorf("%w: dial gate: %v", ErrTransport, err))
		return
	}

	s.metrics.RecordDial(s.policy.name())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	release()
	if err != nil {
		s.metrics.RecordDialFailure(s.policy.name())
		if ctx.Err() != nil {
			return
		}
		s.markDead(fmt.Errorf("%w: dial %s: %v", ErrTransport, s.url, err))
		return
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer s.close()

	// Unblock a pending read as soon as the manager shuts down.
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	if prev := s.g.swapSocket(s); prev != nil {
		prev.close()
	}

	// The group may have drained while the dial was in flight.
	if s.g.shouldCleanup() {
		s.g.setStatus(StatusCleanup)
		return
	}

	keys := s.g.Keys.ToSlice()
	if err := s.writeJSON(s.policy.subscribeMessage(keys)); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.markDead(fmt.Errorf("%w: subscribe: %v", ErrTransport, err))
		return
	}

	s.g.setStatus(StatusAlive)
	s.logger.Info("websocket connected", "keys", len(keys))
	s.policy.onOpen(s.g.ID, keys)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go s.heartbeatLoop(hbCtx)

	s.readLoop(ctx, conn)
}

func (s *groupSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Closed locally: replaced by a newer socket or cleaned up.
				return
			default:
			}
			if ctx.Err() != nil || !s.g.isCurrentSocket(s) {
				return
			}
			s.g.setStatus(StatusDead)
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.logger.Warn("websocket closed by server", "code", ce.Code, "reason", ce.Text)
				s.policy.onClose(s.g.ID, ce.Code, ce.Text)
			} else {
				s.logger.Warn("websocket read failed", "error", err)
				s.policy.onError(fmt.Errorf("%w: read: %v", ErrTransport, err))
			}
			return
		}

		// Plain-text keepalives never reach the JSON pipeline.
		trimmed := bytes.TrimSpace(data)
		if bytes.Equal(trimmed, pingFrame) {
			if err := s.writeMessage(websocket.TextMessage, pongFrame); err != nil {
				s.logger.Warn("pong reply failed", "error", err)
			}
			continue
		}
		if bytes.Equal(trimmed, pongFrame) {
			continue
		}

		s.policy.handleFrame(s.g, data)
	}
}

// heartbeatLoop keeps the connection warm and doubles as the point where a
// socket notices its group has been emptied and retires itself.
func (s *groupSocket) heartbeatLoop(ctx context.Context) {
	timer := time.NewTimer(heartbeatInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-timer.C:
		}

		if !s.heartbeatTick() {
			return
		}
		timer.Reset(heartbeatInterval())
	}
}

// heartbeatTick retires the socket when its group has drained; otherwise it
// pings. A failed ping flips the group DEAD and closes the connection so the
// reaper redials it without waiting out the read deadline. Reports whether
// the loop should continue.
func (s *groupSocket) heartbeatTick() bool {
	if s.g.shouldCleanup() && s.g.isCurrentSocket(s) {
		s.g.setStatus(StatusCleanup)
		s.logger.Info("group emptied, closing socket")
		s.close()
		return false
	}

	if err := s.writeMessage(websocket.TextMessage, pingFrame); err != nil {
		s.markDead(fmt.Errorf("%w: heartbeat: %v", ErrTransport, err))
		s.close()
		return false
	}
	return true
}

// sendUpdate pushes an in-band subscription update on the live connection.
func (s *groupSocket) sendUpdate(keys []string) error {
	return s.writeJSON(s.policy.updateMessage(keys))
}

// markDead flips the group DEAD and surfaces err. A stale socket whose group
// is already served by a live replacement leaves the status alone.
func (s *groupSocket) markDead(err error) {
	if cur := s.g.socket(); cur != nil && cur != s && s.g.Status() == StatusAlive {
		return
	}
	s.g.setStatus(StatusDead)
	s.logger.Warn("websocket dead", "error", err)
	s.policy.onError(err)
}

// close is idempotent and safe from any goroutine.
func (s *groupSocket) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
}

func (s *groupSocket) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.writeMessage(websocket.TextMessage, data)
}

func (s *groupSocket) writeMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(msgType, data)
}
