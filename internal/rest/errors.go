package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/KilimcininKorOglu/concord/internal/kv"
	"github.com/KilimcininKorOglu/concord/internal/raft"
)

// mapBackendError maps a backend error to HTTP status and error code.
func mapBackendError(err error) (int, string, string) {
	switch {
	case errors.Is(err, kv.ErrKeyNotFound):
		return http.StatusNotFound, "not_found", "key not found"
	case errors.Is(err, kv.ErrInvalidKey):
		return http.StatusBadRequest, "invalid_key", "invalid key"
	case errors.Is(err, kv.ErrCorruptCommand), errors.Is(err, kv.ErrUnknownCommand):
		return http.StatusUnprocessableEntity, "rejected", err.Error()
	case errors.Is(err, raft.ErrNotLeader):
		return http.StatusMisdirectedRequest, "not_leader", "this node is not the leader"
	case errors.Is(err, raft.ErrLeaderIsolated):
		return http.StatusServiceUnavailable, "leader_isolated", "leader has lost contact with the cluster"
	case errors.Is(err, raft.ErrLeadershipLost):
		return http.StatusServiceUnavailable, "leadership_lost", "leadership was lost before the write was applied"
	case errors.Is(err, raft.ErrNodeStopped):
		return http.StatusServiceUnavailable, "node_stopped", "node is stopped"
	case errors.Is(err, raft.ErrUnknownPeer):
		return http.StatusBadRequest, "unknown_peer", "target is not a voting member"
	case errors.Is(err, raft.ErrLeadershipTransferInProgress):
		return http.StatusConflict, "transfer_in_progress", "a leadership transfer is already running"
	case errors.Is(err, raft.ErrLeadershipTransferTimeout):
		return http.StatusGatewayTimeout, "transfer_timeout", "no follower caught up in time"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out"
	default:
		return http.StatusInternalServerError, "internal_error", err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Code:    status,
		Message: message,
	})
}
