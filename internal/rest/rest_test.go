package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/concord/internal/kv"
	"github.com/KilimcininKorOglu/concord/internal/logging"
	"github.com/KilimcininKorOglu/concord/internal/raft"
)

type fakeBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	leader   bool
	leaderID uint64
	transfer error
	target   uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte), leader: true, leaderID: 1}
}

func (b *fakeBackend) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.leader {
		return raft.ErrNotLeader
	}
	if key == "" {
		return kv.ErrInvalidKey
	}
	b.data[key] = value
	return nil
}

func (b *fakeBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.leader {
		return raft.ErrNotLeader
	}
	delete(b.data, key)
	return nil
}

func (b *fakeBackend) Get(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	return v, nil
}

func (b *fakeBackend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *fakeBackend) TransferLeadership(_ context.Context, target uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = target
	return b.transfer
}

func (b *fakeBackend) Status() *kv.ClusterStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	role := raft.RoleFollower
	if b.leader {
		role = raft.RoleLeader
	}
	return &kv.ClusterStatus{
		Status:     raft.Status{ID: 1, Role: role.String(), LeaderID: b.leaderID, Term: 3},
		LeaderAddr: "10.0.0.2:4445",
		Keys:       len(b.data),
	}
}

func newTestServer(be Backend, cfg *ServerConfig) http.Handler {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	return NewServer(cfg, be, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestPutGetDelete(t *testing.T) {
	h := newTestServer(newFakeBackend(), nil)

	rec := do(t, h, http.MethodPut, "/api/v1/kv/color", `{"value":"blue"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/kv/color", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry Entry
	decode(t, rec, &entry)
	require.Equal(t, Entry{Key: "color", Value: "blue"}, entry)

	rec = do(t, h, http.MethodGet, "/api/v1/kv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var keys KeysResponse
	decode(t, rec, &keys)
	require.Equal(t, []string{"color"}, keys.Keys)
	require.Equal(t, 1, keys.Count)

	rec = do(t, h, http.MethodDelete, "/api/v1/kv/color", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/kv/color", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var errResp ErrorResponse
	decode(t, rec, &errResp)
	require.Equal(t, "not_found", errResp.Error)
}

func TestEscapedKey(t *testing.T) {
	be := newFakeBackend()
	h := newTestServer(be, nil)

	rec := do(t, h, http.MethodPut, "/api/v1/kv/a%2Fb", `{"value":"nested"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	v, err := be.Get("a/b")
	require.NoError(t, err)
	require.Equal(t, []byte("nested"), v)
}

func TestPutInvalidBody(t *testing.T) {
	h := newTestServer(newFakeBackend(), nil)

	rec := do(t, h, http.MethodPut, "/api/v1/kv/k", `{"value":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteToFollowerNamesLeader(t *testing.T) {
	be := newFakeBackend()
	be.leader = false
	be.leaderID = 2
	h := newTestServer(be, nil)

	rec := do(t, h, http.MethodPut, "/api/v1/kv/k", `{"value":"v"}`)
	require.Equal(t, http.StatusMisdirectedRequest, rec.Code)

	var errResp ErrorResponse
	decode(t, rec, &errResp)
	require.Equal(t, "not_leader", errResp.Error)
	require.Equal(t, uint64(2), errResp.LeaderID)
	require.Equal(t, "10.0.0.2:4445", errResp.Leader)
}

func TestTransferLeadership(t *testing.T) {
	be := newFakeBackend()
	h := newTestServer(be, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/leadership/transfer", `{"targetId":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, uint64(3), be.target)

	rec = do(t, h, http.MethodPost, "/api/v1/leadership/transfer", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Zero(t, be.target)

	be.transfer = raft.ErrLeadershipTransferTimeout
	rec = do(t, h, http.MethodPost, "/api/v1/leadership/transfer", "")
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	be.transfer = raft.ErrUnknownPeer
	rec = do(t, h, http.MethodPost, "/api/v1/leadership/transfer", `{"targetId":9}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusAndHealth(t *testing.T) {
	h := newTestServer(newFakeBackend(), nil)

	rec := do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status kv.ClusterStatus
	decode(t, rec, &status)
	require.Equal(t, "leader", status.Role)
	require.Equal(t, int64(3), status.Term)

	rec = do(t, h, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	decode(t, rec, &health)
	require.Equal(t, "ok", health.Status)
}

func TestRouting(t *testing.T) {
	h := newTestServer(newFakeBackend(), nil)

	rec := do(t, h, http.MethodGet, "/api/v2/nothing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/kv/k", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestID(t *testing.T) {
	h := newTestServer(newFakeBackend(), nil)

	rec := do(t, h, http.MethodGet, "/api/v1/status", "")
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "client-id", rec.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	r := NewRouter()
	r.Use(RecoveryMiddleware(nopLogger()))
	r.GET("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := do(t, r, http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RateLimit = 2
	h := newTestServer(newFakeBackend(), cfg)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/status", "").Code)
	}
	rec := do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestTokenBucketRefills(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTokenBucket(1, func() time.Time { return now })

	require.True(t, b.Allow())
	require.False(t, b.Allow())

	now = now.Add(time.Second)
	require.True(t, b.Allow())
}

func TestMatchPattern(t *testing.T) {
	params, ok := matchPattern("/api/v1/kv/{key}", "/api/v1/kv/abc")
	require.True(t, ok)
	require.Equal(t, "abc", params["key"])

	_, ok = matchPattern("/api/v1/kv/{key}", "/api/v1/kv")
	require.False(t, ok)

	_, ok = matchPattern("/api/v1/kv/{key}", "/api/v1/kv/%zz")
	require.False(t, ok)
}

func nopLogger() logging.Logger { return logging.NewNop() }
