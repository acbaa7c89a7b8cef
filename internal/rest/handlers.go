package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/concord/internal/kv"
	"github.com/KilimcininKorOglu/concord/internal/raft"
)

// maxBodySize bounds request bodies.
const maxBodySize = 16 << 20

// Backend is what the handlers need from the replicated store.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Get(key string) ([]byte, error)
	Keys() []string
	TransferLeadership(ctx context.Context, target uint64) error
	Status() *kv.ClusterStatus
}

// Handlers contains all REST API handlers.
type Handlers struct {
	backend      Backend
	timeout      time.Duration
	startTime    time.Time
	requestCount int64
}

// NewHandlers creates handlers. Writes and transfers give up after timeout.
func NewHandlers(be Backend, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handlers{
		backend:   be,
		timeout:   timeout,
		startTime: time.Now(),
	}
}

// HandleHealth handles GET /api/v1/health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s := h.backend.Status()
	status := "ok"
	if s.Err != "" {
		status = "failed"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   status,
		Role:     s.Role,
		LeaderID: s.LeaderID,
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
		Requests: atomic.LoadInt64(&h.requestCount),
	})
}

// HandleStatus handles GET /api/v1/status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)
	writeJSON(w, http.StatusOK, h.backend.Status())
}

// HandleListKeys handles GET /api/v1/kv
func (h *Handlers) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)
	keys := h.backend.Keys()
	writeJSON(w, http.StatusOK, KeysResponse{Keys: keys, Count: len(keys)})
}

// HandleGet handles GET /api/v1/kv/{key}
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)

	key := Param(r, "key")
	value, err := h.backend.Get(key)
	if err != nil {
		h.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Entry{Key: key, Value: string(value)})
}

// HandlePut handles PUT /api/v1/kv/{key}
func (h *Handlers) HandlePut(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)

	var req PutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key := Param(r, "key")
	if err := h.backend.Put(ctx, key, []byte(req.Value)); err != nil {
		h.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Entry{Key: key, Value: req.Value})
}

// HandleDelete handles DELETE /api/v1/kv/{key}
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.backend.Delete(ctx, Param(r, "key")); err != nil {
		h.writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTransferLeadership handles POST /api/v1/leadership/transfer
func (h *Handlers) HandleTransferLeadership(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.requestCount, 1)

	var req TransferRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.backend.TransferLeadership(ctx, req.TargetID); err != nil {
		h.writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.backend.Status())
}

// writeBackendError writes err, pointing clients at the leader when this
// node is not it.
func (h *Handlers) writeBackendError(w http.ResponseWriter, err error) {
	status, code, message := mapBackendError(err)
	resp := ErrorResponse{Error: code, Code: status, Message: message}
	if errors.Is(err, raft.ErrNotLeader) {
		s := h.backend.Status()
		resp.LeaderID = s.LeaderID
		resp.Leader = s.LeaderAddr
	}
	writeJSON(w, status, resp)
}
