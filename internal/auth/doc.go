// Package auth provides authentication for toolgate's API.
//
// # Authentication Method
//
// API callers authenticate with JWT bearer tokens signed with HS256 using
// the configured jwt_secret. A token carries two claims:
//
//   - sub: the user id making the call
//   - ws:  the workspace id the call is scoped to
//
// # Token Management
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(auth.Identity{UserID: "u", WorkspaceID: "w"}, time.Hour)
//	id, err := verifier.Verify(token)
//
// # HTTP Middleware
//
// Middleware(verifier) wraps a handler and rejects requests without a valid
// bearer token. Handlers read the caller with FromContext(r.Context()).
package auth
