package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bmadloop/internal/config"
	"bmadloop/internal/domain"
	"bmadloop/internal/events"
	"bmadloop/internal/storage"
	"bmadloop/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *testutil.MemStore, *storage.SQLiteStore, *events.Bus) {
	t.Helper()
	store := testutil.NewMemStore()
	history, err := storage.NewInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	cfg := config.New()
	cfg.DataDir = t.TempDir()
	bus := events.NewBus()
	return NewServer(cfg, store, history, bus, zap.NewNop()), store, history, bus
}

func get(t *testing.T, mux http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := get(t, s.routes(), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusHandler(t *testing.T) {
	s, store, _, _ := newTestServer(t)
	store.Record.Set("epic-5", domain.StatusInProgress)
	store.Record.Set("5-1-setup", domain.StatusDone)
	store.Record.Set("5-2-user-auth", domain.StatusBacklog)

	rec := get(t, s.routes(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Epic aggregate entries are not stories.
	require.Len(t, resp.Stories, 2)
	assert.Equal(t, "5-1", resp.Stories[0].ID)
	assert.Equal(t, 1, resp.Counts["done"])
	assert.Equal(t, 1, resp.Counts["backlog"])
	assert.Nil(t, resp.Progress)
}

func TestRunHandlers(t *testing.T) {
	s, _, history, _ := newTestServer(t)
	ctx := context.Background()

	run := &domain.StoryRun{
		Story:     domain.Story{ID: domain.StoryID{Epic: 5, Seq: 2}, Key: "5-2-user-auth"},
		State:     domain.RunSucceeded,
		StartTime: time.Now(),
		Duration:  time.Minute,
		Attempts:  []*domain.Attempt{domain.NewAttempt(1)},
	}
	id, err := history.SaveRun(ctx, run)
	require.NoError(t, err)

	t.Run("list", func(t *testing.T) {
		rec := get(t, s.routes(), "/api/runs")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Runs  []*storage.RunRecord `json:"runs"`
			Total int                  `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Runs, 1)
		assert.Equal(t, 1, resp.Total)
		assert.Equal(t, "5-2", resp.Runs[0].StoryID)
	})

	t.Run("invalid limit rejected", func(t *testing.T) {
		rec := get(t, s.routes(), "/api/runs?limit=0")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get by id", func(t *testing.T) {
		rec := get(t, s.routes(), "/api/runs/"+id)
		require.Equal(t, http.StatusOK, rec.Code)

		var got storage.RunRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, domain.RunSucceeded, got.State)
	})

	t.Run("missing id is 404", func(t *testing.T) {
		rec := get(t, s.routes(), "/api/runs/nope")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("stats", func(t *testing.T) {
		rec := get(t, s.routes(), "/api/stats")
		require.Equal(t, http.StatusOK, rec.Code)

		var stats storage.Stats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		assert.Equal(t, 1, stats.TotalRuns)
	})
}

func TestWebsocketStream(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	go s.hub.Run()
	defer s.hub.Stop()

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Listener.Addr().String()+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for registration before broadcasting.
	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	s.hub.Broadcast(events.Event{Type: events.StepStarted, StoryID: "5-2", Step: "dev-story"})

	var ev events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, events.StepStarted, ev.Type)
	assert.Equal(t, "5-2", ev.StoryID)
}
