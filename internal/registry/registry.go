package registry

import (
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"clobstream/internal/book"
)

// Registry is the mutex-guarded owner of all connection groups.
type Registry struct {
	mu     sync.Mutex
	groups []*group
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// AddAssets registers the given assets, creating new PENDING groups as
// needed, and returns the IDs of every newly created group (each needs a
// connection attempt).
//
// Assets already tracked by any group are ignored. If one existing live
// group has room for all remaining assets, a fresh group is created with
// the union of its members and the new assets, and the old group is marked
// CLEANUP with its member set emptied. A live socket's subscription set is
// never mutated in place; forcing a fresh connection avoids races with
// in-flight handlers. Otherwise the new assets are chunked into groups of
// at most maxPerConn.
func (r *Registry) AddAssets(assetIDs []string, maxPerConn int) []string {
	if maxPerConn < 1 {
		maxPerConn = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := r.filterUntrackedLocked(assetIDs)
	if len(fresh) == 0 {
		return nil
	}

	if g := r.findCapacityLocked(len(fresh), maxPerConn); g != nil {
		union := make([]string, 0, len(g.assets)+len(fresh))
		for id := range g.assets {
			union = append(union, id)
		}
		union = append(union, fresh...)

		g.status = StatusCleanup
		g.assets = make(map[string]struct{})

		ng := r.newGroupLocked(union)
		r.logger.Debug("merged assets into new group",
			"group_id", ng.id,
			"superseded", g.id,
			"assets", len(union),
		)
		return []string{ng.id}
	}

	var created []string
	for start := 0; start < len(fresh); start += maxPerConn {
		end := start + maxPerConn
		if end > len(fresh) {
			end = len(fresh)
		}
		ng := r.newGroupLocked(fresh[start:end])
		created = append(created, ng.id)
	}
	r.logger.Debug("created groups", "count", len(created), "assets", len(fresh))
	return created
}

// RemoveAssets deletes the given assets from every group and clears their
// cache entries. Groups left empty are not removed here; the sweep does
// that, which bounds removal latency to the sweep interval instead of
// complicating every remove call. Returns the assets actually removed.
func (r *Registry) RemoveAssets(assetIDs []string, cache *book.Cache) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, id := range assetIDs {
		found := false
		for _, g := range r.groups {
			if _, ok := g.assets[id]; ok {
				delete(g.assets, id)
				found = true
			}
		}
		if found {
			removed = append(removed, id)
			if cache != nil {
				cache.Clear(id)
			}
		}
	}
	return removed
}

// HasAsset reports whether any group tracks the asset.
func (r *Registry) HasAsset(assetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.groups {
		if _, ok := g.assets[assetID]; ok {
			return true
		}
	}
	return false
}

// GroupByID returns a snapshot of one group.
func (r *Registry) GroupByID(groupID string) (GroupInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findLocked(groupID)
	if g == nil {
		return GroupInfo{}, false
	}
	return snapshot(g), true
}

// GroupAssets returns a copy of a group's member IDs.
func (r *Registry) GroupAssets(groupID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findLocked(groupID)
	if g == nil {
		return nil
	}
	return assetList(g)
}

// GroupAssetSet returns a copy of a group's member set, for per-message
// event filtering.
func (r *Registry) GroupAssetSet(groupID string) map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findLocked(groupID)
	if g == nil {
		return nil
	}
	out := make(map[string]struct{}, len(g.assets))
	for id := range g.assets {
		out[id] = struct{}{}
	}
	return out
}

// SubscribedAssets returns the union of all group member sets.
func (r *Registry) SubscribedAssets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, g := range r.groups {
		for id := range g.assets {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

// SetStatus updates a group's status. Returns false for an unknown group.
func (r *Registry) SetStatus(groupID string, st Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findLocked(groupID)
	if g == nil {
		return false
	}
	g.status = st
	return true
}

// GroupStatus returns a group's current status.
func (r *Registry) GroupStatus(groupID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findLocked(groupID)
	if g == nil {
		return "", false
	}
	return g.status, true
}

// AdoptConn makes conn the group's owned transport handle.
func (r *Registry) AdoptConn(groupID string, conn io.Closer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findLocked(groupID)
	if g == nil {
		return false
	}
	g.conn = conn
	return true
}

// IsCurrentConn reports whether conn is still the group's live transport.
// Heartbeat and read loops use this to detect that they belong to a
// superseded connection.
func (r *Registry) IsCurrentConn(groupID string, conn io.Closer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.findLocked(groupID)
	return g != nil && g.conn == conn
}

// DisconnectGroup closes and drops a group's transport. Idempotent.
func (r *Registry) DisconnectGroup(groupID string) {
	r.mu.Lock()
	g := r.findLocked(groupID)
	var conn io.Closer
	if g != nil && g.conn != nil {
		conn = g.conn
		g.conn = nil
	}
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// GroupsToReconnectAndCleanup performs the periodic sweep: groups that are
// empty or marked CLEANUP are removed (their transports closed), and the
// IDs of remaining DEAD or PENDING groups are returned for a fresh
// connection attempt. ALIVE groups are untouched. This sweep is the only
// place naturally-emptied groups are removed.
func (r *Registry) GroupsToReconnectAndCleanup() []string {
	r.mu.Lock()

	var keep []*group
	var closers []io.Closer
	var reconnect []string
	for _, g := range r.groups {
		if len(g.assets) == 0 || g.status == StatusCleanup {
			if g.conn != nil {
				closers = append(closers, g.conn)
				g.conn = nil
			}
			r.logger.Debug("removing group", "group_id", g.id, "status", g.status)
			continue
		}
		keep = append(keep, g)
		if g.status == StatusDead || g.status == StatusPending {
			reconnect = append(reconnect, g.id)
		}
	}
	r.groups = keep
	r.mu.Unlock()

	for _, c := range closers {
		c.Close()
	}
	return reconnect
}

// ClearAll atomically empties the registry and returns the removed groups
// so the caller can close their transports outside the lock.
func (r *Registry) ClearAll() []RemovedGroup {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RemovedGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, RemovedGroup{ID: g.id, Conn: g.conn})
		g.conn = nil
	}
	r.groups = nil
	return out
}

// Groups returns a snapshot of every group.
func (r *Registry) Groups() []GroupInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]GroupInfo, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, snapshot(g))
	}
	return out
}

// Stats returns group and asset counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Groups: len(r.groups)}
	seen := make(map[string]struct{})
	for _, g := range r.groups {
		if g.status == StatusAlive {
			s.AliveGroups++
		}
		for id := range g.assets {
			seen[id] = struct{}{}
		}
	}
	s.Assets = len(seen)
	return s
}

// filterUntrackedLocked deduplicates assetIDs and drops those already in
// any group.
func (r *Registry) filterUntrackedLocked(assetIDs []string) []string {
	seen := make(map[string]struct{}, len(assetIDs))
	var fresh []string
	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		tracked := false
		for _, g := range r.groups {
			if _, ok := g.assets[id]; ok {
				tracked = true
				break
			}
		}
		if !tracked {
			fresh = append(fresh, id)
		}
	}
	return fresh
}

// findCapacityLocked returns one non-empty, non-cleanup group that can
// absorb n more assets, or nil.
func (r *Registry) findCapacityLocked(n, maxPerConn int) *group {
	for _, g := range r.groups {
		if g.status == StatusCleanup || len(g.assets) == 0 {
			continue
		}
		if len(g.assets)+n <= maxPerConn {
			return g
		}
	}
	return nil
}

func (r *Registry) newGroupLocked(assetIDs []string) *group {
	g := &group{
		id:     uuid.NewString(),
		assets: make(map[string]struct{}, len(assetIDs)),
		status: StatusPending,
	}
	for _, id := range assetIDs {
		g.assets[id] = struct{}{}
	}
	r.groups = append(r.groups, g)
	return g
}

func (r *Registry) findLocked(groupID string) *group {
	for _, g := range r.groups {
		if g.id == groupID {
			return g
		}
	}
	return nil
}

func snapshot(g *group) GroupInfo {
	return GroupInfo{ID: g.id, Assets: assetList(g), Status: g.status}
}

func assetList(g *group) []string {
	out := make([]string, 0, len(g.assets))
	for id := range g.assets {
		out = append(out, id)
	}
	return out
}
