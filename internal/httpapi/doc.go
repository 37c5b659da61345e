// Package httpapi exposes the messaging core over HTTP and WebSocket.
//
// # Identity
//
// The portal in front of this service authenticates users and forwards the
// caller's id in the X-User-ID header. Requests without it get 401.
//
// # Endpoints
//
//	POST /api/send                          send to a user or group
//	GET  /api/conversations                 caller's conversations, newest first
//	GET  /api/conversations/{id}/messages   full history, oldest first
//	POST /api/conversations/{id}/read       move the caller's read marker
//	GET  /ws                                live delivery WebSocket
//	GET  /health                            liveness
//
// The send body is:
//
//	{"sender_id": "1", "target": {"user_id": "2"}, "message": "hello"}
//
// with {"group_name": "..."} in place of user_id for a group send. sender_id
// is optional and must match X-User-ID when present.
//
// # WebSocket Protocol
//
// The first client frame must be:
//
//	{"type": "register", "user_id": "42"}
//
// After that the server pushes one frame per incoming message:
//
//	{"type": "receive-message", "conversation_id": "...", "sender_id": "...",
//	 "body": "...", "created_at": "..."}
//
// Frames are delivered in publish order per session. A session that cannot
// keep up is dropped rather than allowed to block the send path; the durable
// log is the source of truth for anything missed.
//
// # Error Mapping
//
// Service errors map onto statuses: invalid input 400, non-participant 403,
// unknown conversation 404, storage unavailable 503, anything else 500.
package httpapi
