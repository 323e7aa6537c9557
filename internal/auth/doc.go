// Package auth provides the credential service for chat-backend.
//
// # Credential Pair
//
// Every session is a pair of HS256 JWTs signed with separate secrets:
//
//   - Access token: short-lived (15 minutes by default), carries only the
//     user ID in "sub". Never persisted.
//   - Refresh token: long-lived (7 days by default). Stored on the user
//     record; a new login replaces it, so only one session is active.
//
// Both carry a random "jti", so tokens issued within the same second differ.
//
// # Service
//
//	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{AccessSecret: a, RefreshSecret: r})
//	svc := auth.NewService(store, issuer, logger)
//	sess, err := svc.Login(ctx, email, password)
//	access, err := svc.RotateAccess(ctx, sess.RefreshToken)
//
// Revoke clears the stored refresh token. Access tokens already issued stay
// valid until they expire.
//
// # HTTP
//
// HTTPAuthMiddleware tries the accessToken cookie, then an
// "Authorization: Bearer" header, and attaches an AuthContext for the first
// one that authenticates. RequireAdminHTTP further restricts a route to the
// admin role:
//
//	mux.Handle("GET /api/auth/me", auth.HTTPAuthMiddleware(svc)(handler))
//	mux.Handle("POST /api/admin/...", auth.HTTPAuthMiddleware(svc)(auth.RequireAdminHTTP()(handler)))
//	caller := auth.MustFromContext(r.Context())
//
// # Errors
//
//   - ErrInvalidToken: bad signature, wrong type, malformed
//   - ErrExpiredToken: wraps ErrInvalidToken
//   - ErrTokenMismatch: refresh token is not the stored one
//   - ErrInvalidCredentials, ErrAccountDeleted: login failures
//   - ErrEmailTaken, ErrUsernameTaken: registration conflicts
package auth
