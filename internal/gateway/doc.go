// Package gateway serves the chat-backend HTTP API and live channels.
//
// # Overview
//
// Gateway owns the store, the credential and delivery services, the presence
// registry and the HTTP server. It listens on plain TCP or, when tailscale is
// enabled, on a tsnet node.
//
// # HTTP API
//
// Every JSON response uses one envelope:
//
//	{"success": true, "data": ...}
//	{"success": false, "message": "..."}
//
// Endpoints:
//
//   - POST /api/auth/register, POST /api/auth/login - issue a credential pair as cookies
//   - POST /api/auth/refresh - new access token from the refresh cookie
//   - POST /api/auth/logout - revoke the refresh token
//   - GET /api/auth/me - current user
//   - POST /api/message/send - persist and push a message
//   - GET /api/message/conversations - caller's conversations, newest activity first
//   - GET /api/message/messages/{conversationId} - history, oldest first
//   - POST /api/message/read/{conversationId} - mark read
//   - DELETE /api/message/{messageId} - hide for the caller
//   - GET /api/users/search?query= - find users; an empty query returns []
//   - POST /api/admin/users/{id}/deactivate - admin only; soft-delete an account
//   - GET /health, GET /health/ready - liveness and readiness
//
// # Live Channels
//
// GET /ws upgrades to a websocket after authenticating the access token from
// ?token=, the accessToken cookie, or a bearer header. A new channel replaces
// any existing one for the same user; the old one is closed with code 4001.
// Deactivating an account closes its channel with code 4003.
//
// Frames are JSON objects {"event": "...", "data": {...}}:
//
//	-> send_message    {receiverId, conversationId, content, clientMessageId}
//	-> mark_read       {conversationId}
//	<- connected       {userId}
//	<- message_sent    persisted message, to the sender
//	<- receive_message persisted message, to the recipient if online
//	<- messages_read   {conversationId, readerId}
//	<- error_message   {message, clientMessageId}
//
// A delivery that has started finishes even if the sender disconnects.
// Shutdown waits for websocket handlers to return before closing the store.
// A repeated clientMessageId from the same sender is rejected as a duplicate.
package gateway
