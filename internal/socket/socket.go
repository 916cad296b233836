package socket

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"clobstream/internal/limiter"
	"clobstream/internal/metrics"
	"clobstream/internal/registry"
)

// Config holds per-connection settings.
type Config struct {
	URL              string
	InitialDump      bool          // request a full book dump on subscribe
	HandshakeTimeout time.Duration // bounded connection-open timeout
	PingInterval     time.Duration // base heartbeat period, jittered per socket
	WriteTimeout     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Callbacks are the lifecycle notifications a socket emits. All optional.
type Callbacks struct {
	OnOpen  func(groupID string, assetIDs []string)
	OnClose func(groupID string, code int, reason string)
	OnError func(err error)
}

// Socket drives one WebSocket connection for one registry group. A socket
// is single-use: after its connection dies, the sweep creates a new one.
type Socket struct {
	cfg     Config
	groupID string
	reg     *registry.Registry
	proc    *Processor
	lim     limiter.Limiter
	cb      Callbacks
	logger  *slog.Logger

	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a socket for the given group. A nil limiter admits
// everything immediately.
func New(cfg Config, groupID string, reg *registry.Registry, proc *Processor, lim limiter.Limiter, cb Callbacks, logger *slog.Logger) *Socket {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if lim == nil {
		lim = limiter.Unlimited{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Socket{
		cfg:     cfg,
		groupID: groupID,
		reg:     reg,
		proc:    proc,
		lim:     lim,
		cb:      cb,
		logger:  logger.With("group_id", groupID),
		done:    make(chan struct{}),
	}
}

// Connect waits for admission, dials the feed, sends the subscribe frame,
// and starts the read and heartbeat loops. An empty group is flagged
// CLEANUP and left for the sweep; a dial or subscribe failure flags DEAD
// and returns the error.
func (s *Socket) Connect(ctx context.Context) error {
	if len(s.reg.GroupAssets(s.groupID)) == 0 {
		s.reg.SetStatus(s.groupID, registry.StatusCleanup)
		return nil
	}

	if err := s.lim.Wait(ctx); err != nil {
		s.reg.SetStatus(s.groupID, registry.StatusDead)
		return fmt.Errorf("connection admission: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.reg.SetStatus(s.groupID, registry.StatusDead)
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	s.conn = conn
	s.reg.AdoptConn(s.groupID, conn)

	// Membership may have emptied while we waited for admission or the
	// handshake; re-validate before subscribing.
	assets := s.reg.GroupAssets(s.groupID)
	if len(assets) == 0 {
		s.reg.SetStatus(s.groupID, registry.StatusCleanup)
		conn.Close()
		return nil
	}

	sub := SubscribeFrame{
		AssetsIDs:   assets,
		Type:        ChannelTypeMarket,
		InitialDump: s.cfg.InitialDump,
	}
	if err := s.sendJSON(sub); err != nil {
		// No open notification on a failed subscribe.
		s.reg.SetStatus(s.groupID, registry.StatusDead)
		conn.Close()
		return fmt.Errorf("send subscribe: %w", err)
	}

	s.reg.SetStatus(s.groupID, registry.StatusAlive)
	metrics.ConnectionsOpen.Inc()
	s.logger.Debug("connected", "assets", len(assets))

	if s.cb.OnOpen != nil {
		s.cb.OnOpen(s.groupID, assets)
	}

	go s.heartbeatLoop(conn)
	go s.readLoop(conn)
	return nil
}

// Close tears down the connection deliberately. The read loop exits
// silently rather than reporting an error.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			err = s.conn.Close()
		}
	})
	return err
}

// readLoop pumps inbound frames into the processor until the connection
// dies. Events within one connection are processed in arrival order.
func (s *Socket) readLoop(conn *websocket.Conn) {
	defer metrics.ConnectionsOpen.Dec()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(conn, err)
			return
		}

		set := s.reg.GroupAssetSet(s.groupID)
		s.proc.HandleFrame(data, func(id string) bool {
			_, ok := set[id]
			return ok
		})
	}
}

// handleReadError maps a dead connection onto the group state machine.
// A socket whose transport was already superseded or whose group is gone
// (sweep cleanup, ClearState) stays silent; stale sockets must not flip
// the state of a group they no longer own.
func (s *Socket) handleReadError(conn *websocket.Conn, err error) {
	select {
	case <-s.done:
		return
	default:
	}

	if !s.reg.IsCurrentConn(s.groupID, conn) {
		return
	}

	s.reg.SetStatus(s.groupID, registry.StatusDead)

	if ce, ok := err.(*websocket.CloseError); ok {
		s.logger.Debug("connection closed", "code", ce.Code, "reason", ce.Text)
		if s.cb.OnClose != nil {
			s.cb.OnClose(s.groupID, ce.Code, ce.Text)
		}
		return
	}

	s.logger.Debug("connection error", "error", err)
	if s.cb.OnError != nil {
		s.cb.OnError(fmt.Errorf("group %s: connection: %w", s.groupID, err))
	}
}

// heartbeatLoop sends a text PING on a jittered period so many groups
// never ping in lockstep. It self-cancels when this connection is no
// longer the group's live transport or the group has emptied.
func (s *Socket) heartbeatLoop(conn *websocket.Conn) {
	period := s.cfg.PingInterval + time.Duration(rand.Int63n(int64(s.cfg.PingInterval)/2+1))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		if !s.reg.IsCurrentConn(s.groupID, conn) {
			return
		}
		if len(s.reg.GroupAssets(s.groupID)) == 0 {
			s.reg.SetStatus(s.groupID, registry.StatusCleanup)
			return
		}
		if err := s.sendText(pingText); err != nil {
			s.reg.SetStatus(s.groupID, registry.StatusDead)
			return
		}
	}
}

// pingText is the liveness probe the feed answers with PONG. Replies are
// informational only; a missed PONG does not force a reconnect.
const pingText = "PING"

func (s *Socket) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.send(data)
}

func (s *Socket) sendText(text string) error {
	return s.send([]byte(text))
}

func (s *Socket) send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
