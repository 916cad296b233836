package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clobstream/internal/book"
	"clobstream/internal/limiter"
	"clobstream/internal/metrics"
	"clobstream/internal/registry"
	"clobstream/internal/socket"
)

// Config holds the multi-group manager settings.
type Config struct {
	URL                    string
	MaxAssetsPerConnection int
	SweepInterval          time.Duration
	InitialDump            bool
	HandshakeTimeout       time.Duration
	PingInterval           time.Duration
	WriteTimeout           time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAssetsPerConnection: 100,
		SweepInterval:          10 * time.Second,
		InitialDump:            true,
		HandshakeTimeout:       30 * time.Second,
		PingInterval:           10 * time.Second,
		WriteTimeout:           5 * time.Second,
	}
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Groups         int // all groups, any status
	OpenGroups     int // groups with a live connection
	TrackedAssets  int
	PendingUpdates int // single-connection manager only; always 0 here
}

// Manager multiplexes subscriptions across bounded connection groups.
// Adding assets bin-packs them into groups, each served by its own
// socket; a periodic sweep reconnects dead groups and removes emptied
// ones. All book state lives in one shared cache.
type Manager struct {
	cfg      Config
	handlers Handlers
	reg      *registry.Registry
	cache    *book.Cache
	proc     *socket.Processor
	lim      limiter.Limiter
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New creates a manager. A nil limiter admits every dial immediately; a
// nil logger falls back to slog.Default().
func New(cfg Config, handlers Handlers, lim limiter.Limiter, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxAssetsPerConnection <= 0 {
		cfg.MaxAssetsPerConnection = def.MaxAssetsPerConnection
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if lim == nil {
		lim = limiter.Unlimited{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:      cfg,
		handlers: handlers,
		reg:      registry.New(logger),
		cache:    book.NewCache(),
		lim:      lim,
		logger:   logger.With("component", "manager"),
		ctx:      context.Background(),
	}
	m.proc = socket.NewProcessor(m.cache, m.sink(), logger)
	return m
}

// Start launches the sweep loop. Safe to call once; Stop undoes it.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(1)
	go m.sweepLoop()
	m.logger.Info("manager started", "sweep_interval", m.cfg.SweepInterval)
}

// Stop cancels the sweep loop, tears down every connection, and clears
// all state. The context bounds how long to wait for the loop to exit.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("stop timed out waiting for sweep loop")
	}

	m.ClearState()
	m.logger.Info("manager stopped")
}

// AddSubscriptions registers new assets and opens connections for the
// groups they land in. Already-tracked assets are ignored. Connection
// failures are reported through OnError, never returned; the sweep
// retries dead groups.
func (m *Manager) AddSubscriptions(assetIDs []string) {
	newGroups := m.reg.AddAssets(assetIDs, m.cfg.MaxAssetsPerConnection)
	for _, gid := range newGroups {
		m.connectGroup(gid)
	}
	metrics.AssetsTracked.Set(float64(len(m.reg.SubscribedAssets())))
}

// RemoveSubscriptions drops assets from their groups and clears their
// cached books. Groups left empty keep their connection until the next
// sweep removes them.
func (m *Manager) RemoveSubscriptions(assetIDs []string) {
	m.reg.RemoveAssets(assetIDs, m.cache)
	metrics.AssetsTracked.Set(float64(len(m.reg.SubscribedAssets())))
}

// ClearState drops every group, closes every connection, and empties the
// book cache.
func (m *Manager) ClearState() {
	removed := m.reg.ClearAll()
	for _, g := range removed {
		if g.Conn != nil {
			g.Conn.Close()
		}
	}
	m.cache.Clear()
	metrics.AssetsTracked.Set(0)
	m.logger.Debug("state cleared", "groups", len(removed))
}

// SubscribedAssets returns every tracked asset ID.
func (m *Manager) SubscribedAssets() []string {
	return m.reg.SubscribedAssets()
}

// BookEntry returns a copy of the cached book for one asset.
func (m *Manager) BookEntry(assetID string) (book.Entry, bool) {
	return m.cache.GetEntry(assetID)
}

// Stats returns current group and asset counts.
func (m *Manager) Stats() Stats {
	rs := m.reg.Stats()
	return Stats{
		Groups:        rs.Groups,
		OpenGroups:    rs.AliveGroups,
		TrackedAssets: rs.Assets,
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep removes empty and CLEANUP groups and reconnects DEAD or PENDING
// ones.
func (m *Manager) sweep() {
	metrics.Sweeps.Inc()

	for _, gid := range m.reg.GroupsToReconnectAndCleanup() {
		if _, ok := m.reg.GroupByID(gid); !ok {
			// The registry just reported this group; its disappearance
			// means concurrent state mutation broke an invariant.
			m.reportError(fmt.Errorf("sweep: group %s vanished before reconnect", gid))
			continue
		}
		metrics.Reconnects.Inc()
		m.connectGroup(gid)
	}
}

// connectGroup builds a fresh socket for the group and dials. Errors go
// to OnError; the group is left DEAD for the next sweep to retry.
func (m *Manager) connectGroup(groupID string) {
	cfg := socket.Config{
		URL:              m.cfg.URL,
		InitialDump:      m.cfg.InitialDump,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		PingInterval:     m.cfg.PingInterval,
		WriteTimeout:     m.cfg.WriteTimeout,
	}
	s := socket.New(cfg, groupID, m.reg, m.proc, m.lim, m.callbacks(), m.logger)
	if err := s.Connect(m.ctx); err != nil {
		m.reportError(fmt.Errorf("connect group %s: %w", groupID, err))
	}
}

func (m *Manager) sink() socket.Sink {
	return buildSink(m.handlers, m.logger, m.reg.HasAsset, m.reportError)
}

func (m *Manager) callbacks() socket.Callbacks {
	return socket.Callbacks{
		OnOpen: func(groupID string, assetIDs []string) {
			if m.handlers.OnConnectionOpen != nil {
				invoke(m.logger, "on_connection_open", func() { m.handlers.OnConnectionOpen(groupID, assetIDs) })
			}
		},
		OnClose: func(groupID string, code int, reason string) {
			if m.handlers.OnConnectionClose != nil {
				invoke(m.logger, "on_connection_close", func() { m.handlers.OnConnectionClose(groupID, code, reason) })
			}
		},
		OnError: m.reportError,
	}
}

func (m *Manager) reportError(err error) {
	m.logger.Debug("feed error", "error", err)
	if m.handlers.OnError != nil {
		invoke(m.logger, "on_error", func() { m.handlers.OnError(err) })
	}
}
