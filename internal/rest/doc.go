// Package rest provides the HTTP API of a concord node.
//
// # Endpoints
//
//	GET    /api/v1/health              - Liveness and role
//	GET    /api/v1/status              - Raft state of this node
//	GET    /api/v1/kv                  - List keys applied on this node
//	GET    /api/v1/kv/{key}            - Read a key from local state
//	PUT    /api/v1/kv/{key}            - Write a key (leader only)
//	DELETE /api/v1/kv/{key}            - Delete a key (leader only)
//	POST   /api/v1/leadership/transfer - Hand leadership to another member
//
// Keys are path segments; a key containing a slash must be escaped as %2F.
// Values travel as JSON strings:
//
//	PUT /api/v1/kv/color
//	{"value": "blue"}
//
// # Errors
//
// Failed requests return an ErrorResponse. A write sent to a follower fails
// with 421 and error "not_leader"; the response names the leader when one is
// known so the client can retry there.
//
// # Request IDs
//
// Every response carries an X-Request-ID header. A client-supplied id is
// kept; otherwise a new one is generated. The id appears in the request log.
package rest
