package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkyc-labs/signaling/model"
	"github.com/vkyc-labs/signaling/storage/memory"
)

type nopWire struct{}

func (nopWire) Send(model.Message) {}

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	logger := zerolog.Nop()
	store := memory.NewStore()
	srv := NewServer(Config{
		Logger:     &logger,
		Stats:      store,
		ListenAddr: ":0",
	})
	return srv, store
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatsReflectDirectory(t *testing.T) {
	srv, store := newTestServer(t)

	customer := store.AddPeer(nopWire{})
	_, err := store.Register(customer, "Asha Rao", nil)
	require.NoError(t, err)
	store.MarkEmployee(store.AddPeer(nopWire{}))

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string       `json:"status"`
		Data   memory.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, memory.Stats{Peers: 2, Rooms: 1, Waiting: 1, Employees: 1}, resp.Data)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/stats", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
