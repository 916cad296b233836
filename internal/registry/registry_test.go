package registry

import (
	"fmt"
	"testing"

	"clobstream/internal/book"
	"clobstream/internal/model"
)

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestAddAssets_Idempotent(t *testing.T) {
	r := New(nil)

	first := r.AddAssets([]string{"asset-1"}, 10)
	if len(first) != 1 {
		t.Fatalf("len(first) = %d, want 1", len(first))
	}

	second := r.AddAssets([]string{"asset-1"}, 10)
	if len(second) != 0 {
		t.Errorf("len(second) = %d, want 0", len(second))
	}

	if !r.HasAsset("asset-1") {
		t.Error("asset-1 should be tracked")
	}

	// No duplicate membership across groups.
	total := 0
	for _, g := range r.Groups() {
		total += len(g.Assets)
	}
	if total != 1 {
		t.Errorf("total memberships = %d, want 1", total)
	}
}

func TestAddAssets_BinPacking(t *testing.T) {
	r := New(nil)

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, fmt.Sprintf("asset-%d", i))
	}

	created := r.AddAssets(ids, 3)
	if len(created) != 4 { // ceil(10/3)
		t.Fatalf("len(created) = %d, want 4", len(created))
	}

	seen := make(map[string]int)
	for _, gid := range created {
		g, ok := r.GroupByID(gid)
		if !ok {
			t.Fatalf("group %s not found", gid)
		}
		if len(g.Assets) > 3 {
			t.Errorf("group %s has %d assets, want <= 3", gid, len(g.Assets))
		}
		if g.Status != StatusPending {
			t.Errorf("group %s status = %q, want %q", gid, g.Status, StatusPending)
		}
		for _, id := range g.Assets {
			seen[id]++
		}
	}

	if len(seen) != 10 {
		t.Errorf("union size = %d, want 10", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("asset %s appears %d times, want 1", id, n)
		}
	}
}

func TestAddAssets_MergesIntoNewGroup(t *testing.T) {
	r := New(nil)

	old := r.AddAssets([]string{"a", "b"}, 10)
	if len(old) != 1 {
		t.Fatalf("len(old) = %d, want 1", len(old))
	}

	created := r.AddAssets([]string{"c"}, 10)
	if len(created) != 1 {
		t.Fatalf("len(created) = %d, want 1", len(created))
	}
	if created[0] == old[0] {
		t.Error("merge must create a new group, not extend the old one")
	}

	ng, ok := r.GroupByID(created[0])
	if !ok {
		t.Fatal("new group not found")
	}
	if len(ng.Assets) != 3 {
		t.Errorf("new group has %d assets, want 3", len(ng.Assets))
	}

	og, ok := r.GroupByID(old[0])
	if !ok {
		t.Fatal("old group should still exist until the sweep")
	}
	if og.Status != StatusCleanup {
		t.Errorf("old group status = %q, want %q", og.Status, StatusCleanup)
	}
	if len(og.Assets) != 0 {
		t.Errorf("old group has %d assets, want 0", len(og.Assets))
	}
}

func TestRemoveAssets(t *testing.T) {
	r := New(nil)
	cache := book.NewCache()
	cache.ReplaceBook("a", []model.PriceLevel{{Price: "0.2", Size: "1"}}, []model.PriceLevel{{Price: "0.3", Size: "1"}})

	created := r.AddAssets([]string{"a", "b"}, 10)

	removed := r.RemoveAssets([]string{"a", "missing"}, cache)
	if len(removed) != 1 || removed[0] != "a" {
		t.Errorf("removed = %v, want [a]", removed)
	}
	if _, ok := cache.GetEntry("a"); ok {
		t.Error("cache entry for a should be cleared")
	}
	if r.HasAsset("a") {
		t.Error("a should no longer be tracked")
	}
	if !r.HasAsset("b") {
		t.Error("b should still be tracked")
	}

	// Emptied groups stay until the sweep.
	r.RemoveAssets([]string{"b"}, cache)
	if _, ok := r.GroupByID(created[0]); !ok {
		t.Error("empty group should survive until the sweep")
	}
}

func TestGroupsToReconnectAndCleanup(t *testing.T) {
	r := New(nil)

	alive := r.AddAssets([]string{"a"}, 1)[0]
	dead := r.AddAssets([]string{"b"}, 1)[0]
	pending := r.AddAssets([]string{"c"}, 1)[0]
	emptied := r.AddAssets([]string{"d"}, 1)[0]

	r.SetStatus(alive, StatusAlive)
	r.SetStatus(dead, StatusDead)
	r.RemoveAssets([]string{"d"}, nil)

	conn := &fakeConn{}
	r.AdoptConn(emptied, conn)

	reconnect := r.GroupsToReconnectAndCleanup()

	want := map[string]bool{dead: true, pending: true}
	if len(reconnect) != 2 {
		t.Fatalf("len(reconnect) = %d, want 2 (%v)", len(reconnect), reconnect)
	}
	for _, gid := range reconnect {
		if !want[gid] {
			t.Errorf("unexpected group %s in reconnect list", gid)
		}
	}

	if !conn.closed {
		t.Error("emptied group's transport should be closed by the sweep")
	}
	if _, ok := r.GroupByID(emptied); ok {
		t.Error("emptied group should be removed")
	}
	if _, ok := r.GroupByID(alive); !ok {
		t.Error("alive group should be untouched")
	}
}

func TestClearAll(t *testing.T) {
	r := New(nil)

	gid := r.AddAssets([]string{"a"}, 10)[0]
	conn := &fakeConn{}
	r.AdoptConn(gid, conn)

	removed := r.ClearAll()
	if len(removed) != 1 {
		t.Fatalf("len(removed) = %d, want 1", len(removed))
	}
	if removed[0].Conn == nil {
		t.Fatal("removed group should carry its transport for teardown")
	}
	removed[0].Conn.Close()
	if !conn.closed {
		t.Error("caller close should reach the transport")
	}

	if s := r.Stats(); s.Groups != 0 || s.Assets != 0 {
		t.Errorf("Stats = %+v after ClearAll, want empty", s)
	}
}

func TestIsCurrentConn(t *testing.T) {
	r := New(nil)
	gid := r.AddAssets([]string{"a"}, 10)[0]

	c1 := &fakeConn{}
	c2 := &fakeConn{}
	r.AdoptConn(gid, c1)

	if !r.IsCurrentConn(gid, c1) {
		t.Error("c1 should be current")
	}
	r.AdoptConn(gid, c2)
	if r.IsCurrentConn(gid, c1) {
		t.Error("c1 should be stale after c2 adopted")
	}
	if !r.IsCurrentConn(gid, c2) {
		t.Error("c2 should be current")
	}
}
