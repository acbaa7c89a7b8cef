package rest

// Entry is one key and its value.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PutRequest is the body of PUT /api/v1/kv/{key}.
type PutRequest struct {
	Value string `json:"value"`
}

// KeysResponse lists the keys known to this node.
type KeysResponse struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

// TransferRequest is the body of POST /api/v1/leadership/transfer. A zero
// TargetID lets the leader pick a follower.
type TransferRequest struct {
	TargetID uint64 `json:"targetId"`
}

// HealthResponse reports liveness and role.
type HealthResponse struct {
	Status   string `json:"status"`
	Role     string `json:"role"`
	LeaderID uint64 `json:"leaderId,omitempty"`
	Uptime   string `json:"uptime"`
	Requests int64  `json:"requests"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	LeaderID uint64 `json:"leaderId,omitempty"`
	Leader   string `json:"leaderAddr,omitempty"`
}
