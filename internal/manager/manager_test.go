package manager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"clobstream/internal/model"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// holdOpen reads until the client goes away, keeping the connection up.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestManager_AddSubscriptionsBinPacks(t *testing.T) {
	server := mockWSServer(t, holdOpen)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	cfg.MaxAssetsPerConnection = 2

	m := New(cfg, Handlers{}, nil, nil)
	defer m.ClearState()

	m.AddSubscriptions([]string{"a", "b", "c", "d", "e"})

	st := m.Stats()
	if st.Groups != 3 {
		t.Errorf("groups = %d, want 3", st.Groups)
	}
	if st.TrackedAssets != 5 {
		t.Errorf("tracked assets = %d, want 5", st.TrackedAssets)
	}
	waitFor(t, time.Second, func() bool { return m.Stats().OpenGroups == 3 })

	// Re-adding tracked assets changes nothing.
	m.AddSubscriptions([]string{"a", "e"})
	if got := m.Stats().Groups; got != 3 {
		t.Errorf("groups after duplicate add = %d, want 3", got)
	}
}

func TestManager_RemoveThenSweepDropsGroups(t *testing.T) {
	server := mockWSServer(t, holdOpen)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	cfg.MaxAssetsPerConnection = 2

	m := New(cfg, Handlers{}, nil, nil)
	defer m.ClearState()

	m.AddSubscriptions([]string{"a", "b", "c"})
	waitFor(t, time.Second, func() bool { return m.Stats().OpenGroups == 2 })

	m.RemoveSubscriptions([]string{"a", "b", "c"})
	if got := m.Stats().TrackedAssets; got != 0 {
		t.Errorf("tracked assets = %d, want 0", got)
	}
	// Emptied groups linger until the sweep.
	if got := m.Stats().Groups; got != 2 {
		t.Errorf("groups before sweep = %d, want 2", got)
	}

	m.sweep()
	if got := m.Stats().Groups; got != 0 {
		t.Errorf("groups after sweep = %d, want 0", got)
	}
}

func TestManager_EventsReachHandlers(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil { // subscribe frame
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{
			"event_type": "book",
			"asset_id": "a",
			"market": "0xmarket",
			"timestamp": "1",
			"bids": [{"price": "0.4", "size": "10"}],
			"asks": [{"price": "0.6", "size": "10"}]
		}`))
		holdOpen(conn)
	})
	defer server.Close()

	var mu sync.Mutex
	books := 0
	var opened []string

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)

	m := New(cfg, Handlers{
		OnBook: func(evs []model.BookEvent) {
			mu.Lock()
			books += len(evs)
			mu.Unlock()
		},
		OnConnectionOpen: func(groupID string, assetIDs []string) {
			mu.Lock()
			opened = assetIDs
			mu.Unlock()
		},
	}, nil, nil)
	defer m.ClearState()

	m.AddSubscriptions([]string{"a"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return books == 1 && len(opened) == 1
	})

	entry, ok := m.BookEntry("a")
	if !ok {
		t.Fatal("book entry should be cached")
	}
	if len(entry.Bids) != 1 || len(entry.Asks) != 1 {
		t.Errorf("cached book = %d bids / %d asks, want 1/1", len(entry.Bids), len(entry.Asks))
	}
}

func TestManager_HandlerPanicContained(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		frame := `{
			"event_type": "book",
			"asset_id": "a",
			"market": "0xmarket",
			"timestamp": "1",
			"bids": [{"price": "0.4", "size": "10"}],
			"asks": [{"price": "0.6", "size": "10"}]
		}`
		conn.WriteMessage(websocket.TextMessage, []byte(frame))
		conn.WriteMessage(websocket.TextMessage, []byte(frame))
		holdOpen(conn)
	})
	defer server.Close()

	var mu sync.Mutex
	calls := 0

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)

	m := New(cfg, Handlers{
		OnBook: func(evs []model.BookEvent) {
			mu.Lock()
			calls++
			mu.Unlock()
			panic("handler bug")
		},
	}, nil, nil)
	defer m.ClearState()

	m.AddSubscriptions([]string{"a"})

	// Both frames get dispatched; the first panic does not kill the
	// read loop.
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
}

func TestManager_ConnectFailureReported(t *testing.T) {
	var mu sync.Mutex
	var errs []error

	cfg := DefaultConfig()
	cfg.URL = "ws://127.0.0.1:1" // nothing listens here
	cfg.HandshakeTimeout = 200 * time.Millisecond

	m := New(cfg, Handlers{
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	}, nil, nil)
	defer m.ClearState()

	m.AddSubscriptions([]string{"a"})

	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		t.Fatal("dial failure should be reported through OnError")
	}
	if m.Stats().OpenGroups != 0 {
		t.Errorf("open groups = %d, want 0", m.Stats().OpenGroups)
	}
	// The group survives for the sweep to retry.
	if m.Stats().Groups != 1 {
		t.Errorf("groups = %d, want 1", m.Stats().Groups)
	}
}

func TestManager_SweepReconnectsDeadGroup(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	server := mockWSServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		dials++
		first := dials == 1
		mu.Unlock()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if first {
			return // drop the first connection right after subscribe
		}
		holdOpen(conn)
	})
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)

	m := New(cfg, Handlers{}, nil, nil)
	defer m.ClearState()

	m.AddSubscriptions([]string{"a"})
	waitFor(t, time.Second, func() bool { return m.Stats().OpenGroups == 0 })

	m.sweep()
	waitFor(t, time.Second, func() bool { return m.Stats().OpenGroups == 1 })

	mu.Lock()
	defer mu.Unlock()
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
}

func TestManager_ClearState(t *testing.T) {
	server := mockWSServer(t, holdOpen)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)

	m := New(cfg, Handlers{}, nil, nil)
	m.AddSubscriptions([]string{"a", "b"})
	waitFor(t, time.Second, func() bool { return m.Stats().OpenGroups == 1 })

	m.ClearState()

	st := m.Stats()
	if st.Groups != 0 || st.TrackedAssets != 0 {
		t.Errorf("stats after clear = %+v, want empty", st)
	}
	if got := m.SubscribedAssets(); len(got) != 0 {
		t.Errorf("subscribed assets = %v, want none", got)
	}
}

func TestManager_StartStop(t *testing.T) {
	server := mockWSServer(t, holdOpen)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	cfg.SweepInterval = 20 * time.Millisecond

	m := New(cfg, Handlers{}, nil, nil)
	m.Start(context.Background())
	m.AddSubscriptions([]string{"a"})
	waitFor(t, time.Second, func() bool { return m.Stats().OpenGroups == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Stop(ctx)

	if got := m.Stats().Groups; got != 0 {
		t.Errorf("groups after stop = %d, want 0", got)
	}
}
