package manager

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clobstream/internal/book"
	"clobstream/internal/limiter"
	"clobstream/internal/metrics"
	"clobstream/internal/socket"
)

// SingleConfig holds the single-connection manager settings.
type SingleConfig struct {
	URL            string
	FlushInterval  time.Duration // pending-set flush period
	ConnectTimeout time.Duration
	RetryInterval  time.Duration // pause between reconnect attempts
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	InitialDump    bool
}

// DefaultSingleConfig returns sensible defaults.
func DefaultSingleConfig() SingleConfig {
	return SingleConfig{
		FlushInterval:  100 * time.Millisecond,
		ConnectTimeout: 30 * time.Second,
		RetryInterval:  time.Second,
		PingInterval:   10 * time.Second,
		WriteTimeout:   5 * time.Second,
		InitialDump:    true,
	}
}

// Single serves every subscription over one connection. Add and remove
// calls mutate pending sets synchronously and return immediately; a
// flush timer batches the accumulated intent into incremental
// subscribe/unsubscribe frames. The connection is dialed lazily once
// there is something to subscribe and redialed after any drop, with the
// handshake announcing the full desired set.
type Single struct {
	cfg      SingleConfig
	handlers Handlers
	lim      limiter.Limiter
	logger   *slog.Logger
	cache    *book.Cache
	proc     *socket.Processor

	mu      sync.Mutex
	pending *pendingAssetSet
	conn    *websocket.Conn
	connID  string

	writeMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewSingle creates a single-connection manager. A nil limiter admits
// every dial immediately; a nil logger falls back to slog.Default().
func NewSingle(cfg SingleConfig, handlers Handlers, lim limiter.Limiter, logger *slog.Logger) *Single {
	def := DefaultSingleConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if lim == nil {
		lim = limiter.Unlimited{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Single{
		cfg:      cfg,
		handlers: handlers,
		lim:      lim,
		logger:   logger.With("component", "single"),
		cache:    book.NewCache(),
		pending:  newPendingAssetSet(),
	}
	s.proc = socket.NewProcessor(s.cache, buildSink(handlers, s.logger, s.isSubscribed, s.reportError), logger)
	return s
}

// Start launches the connection and flush loops.
func (s *Single) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(2)
	go s.runLoop()
	go s.flushLoop()
	s.logger.Info("single manager started", "flush_interval", s.cfg.FlushInterval)
}

// Stop cancels both loops, closes the connection, and clears the cache.
// The context bounds how long to wait for the loops to exit.
func (s *Single) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("stop timed out waiting for loops")
	}

	s.cache.Clear()
	s.logger.Info("single manager stopped")
}

// AddSubscriptions queues assets for subscription. Returns immediately;
// the next flush sends the delta. An asset queued for unsubscription is
// reclaimed without wire traffic.
func (s *Single) AddSubscriptions(assetIDs []string) {
	s.mu.Lock()
	s.pending.add(assetIDs)
	sub, pend := s.pending.counts()
	s.mu.Unlock()
	metrics.AssetsTracked.Set(float64(sub))
	s.logger.Debug("subscriptions queued", "subscribed", sub, "pending", pend)
}

// RemoveSubscriptions queues assets for unsubscription. An asset still
// waiting to subscribe is dropped outright.
func (s *Single) RemoveSubscriptions(assetIDs []string) {
	s.mu.Lock()
	s.pending.remove(assetIDs)
	sub, _ := s.pending.counts()
	s.mu.Unlock()
	metrics.AssetsTracked.Set(float64(sub))
}

// ClearState drops all subscription intent, closes the connection, and
// empties the cache. The run loop redials once something is added again.
func (s *Single) ClearState() {
	s.mu.Lock()
	s.pending = newPendingAssetSet()
	conn := s.conn
	s.conn = nil
	s.connID = ""
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.cache.Clear()
	metrics.AssetsTracked.Set(0)
}

// SubscribedAssets returns the assets currently announced to the feed.
func (s *Single) SubscribedAssets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.subscribedList()
}

// BookEntry returns a copy of the cached book for one asset.
func (s *Single) BookEntry(assetID string) (book.Entry, bool) {
	return s.cache.GetEntry(assetID)
}

// Stats returns connection and subscription counts.
func (s *Single) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, pend := s.pending.counts()
	st := Stats{TrackedAssets: sub, PendingUpdates: pend}
	if s.conn != nil {
		st.Groups = 1
		st.OpenGroups = 1
	}
	return st
}

// runLoop dials whenever there is something to serve and tears state
// down after every disconnect: the cache is cleared in full and
// subscription intent is requeued, so the next connection starts from a
// consistent empty book.
func (s *Single) runLoop() {
	defer s.wg.Done()

	for {
		if s.ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		desired := len(s.pending.desired())
		s.mu.Unlock()
		if desired == 0 {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.cfg.FlushInterval):
			}
			continue
		}

		err := s.runConnection(s.ctx)

		s.mu.Lock()
		s.conn = nil
		s.connID = ""
		s.pending.requeue()
		s.mu.Unlock()
		s.cache.Clear()

		if err != nil && s.ctx.Err() == nil {
			s.reportError(err)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.cfg.RetryInterval):
		}
	}
}

// runConnection dials, announces the desired set, and pumps frames until
// the connection dies. A server-initiated close returns nil after the
// close callback; transport errors are returned for reporting.
func (s *Single) runConnection(ctx context.Context) error {
	if err := s.lim.Wait(ctx); err != nil {
		return fmt.Errorf("connection admission: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	connID := uuid.NewString()

	s.mu.Lock()
	desired := s.pending.desired()
	s.mu.Unlock()

	hand := socket.SubscribeFrame{
		AssetsIDs:   desired,
		Type:        socket.ChannelTypeMarket,
		InitialDump: s.cfg.InitialDump,
	}
	if err := s.writeJSON(conn, hand); err != nil {
		conn.Close()
		return fmt.Errorf("send subscribe: %w", err)
	}

	// Publish the connection only after the handshake: the flush loop
	// must never race an incremental frame ahead of it.
	s.mu.Lock()
	s.pending.commit(desired)
	s.conn = conn
	s.connID = connID
	s.mu.Unlock()

	metrics.ConnectionsOpen.Inc()
	defer metrics.ConnectionsOpen.Dec()
	s.logger.Debug("connected", "conn_id", connID, "assets", len(desired))

	if s.handlers.OnConnectionOpen != nil {
		invoke(s.logger, "on_connection_open", func() { s.handlers.OnConnectionOpen(connID, desired) })
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.heartbeat(conn, pingDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			if ce, ok := err.(*websocket.CloseError); ok {
				s.logger.Debug("connection closed", "code", ce.Code, "reason", ce.Text)
				if s.handlers.OnConnectionClose != nil {
					invoke(s.logger, "on_connection_close", func() { s.handlers.OnConnectionClose(connID, ce.Code, ce.Text) })
				}
				return nil
			}
			return fmt.Errorf("connection: %w", err)
		}
		s.proc.HandleFrame(data, s.isSubscribed)
	}
}

// flushLoop periodically turns pending intent into wire frames.
func (s *Single) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush sends one subscribe and one unsubscribe delta. Send failures are
// logged only: a failing transport is about to surface in the read loop,
// and requeue preserves the committed intent.
func (s *Single) flush() {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return
	}
	sub, unsub := s.pending.takeFlush()
	s.mu.Unlock()

	if len(sub) > 0 {
		frame := socket.OperationFrame{Operation: socket.OpSubscribe, AssetsIDs: sub}
		if err := s.writeJSON(conn, frame); err != nil {
			s.logger.Debug("subscribe flush failed", "error", err)
			return
		}
	}
	if len(unsub) > 0 {
		frame := socket.OperationFrame{Operation: socket.OpUnsubscribe, AssetsIDs: unsub}
		if err := s.writeJSON(conn, frame); err != nil {
			s.logger.Debug("unsubscribe flush failed", "error", err)
		}
		s.cache.Clear(unsub...)
	}
}

// heartbeat sends a text PING on a jittered period until the connection
// is replaced or the manager stops.
func (s *Single) heartbeat(conn *websocket.Conn, done chan struct{}) {
	period := s.cfg.PingInterval + time.Duration(rand.Int63n(int64(s.cfg.PingInterval)/2+1))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.writeText(conn, "PING"); err != nil {
			return
		}
	}
}

// isSubscribed is the processor's membership filter: only events for
// committed subscriptions pass.
func (s *Single) isSubscribed(assetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.isSubscribed(assetID)
}

func (s *Single) reportError(err error) {
	s.logger.Debug("feed error", "error", err)
	if s.handlers.OnError != nil {
		invoke(s.logger, "on_error", func() { s.handlers.OnError(err) })
	}
}

func (s *Single) writeJSON(conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(v)
}

func (s *Single) writeText(conn *websocket.Conn, text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}
