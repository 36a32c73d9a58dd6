// Package auth authenticates chat users for huddle-gateway.
//
// # Tokens
//
// Users authenticate with HS256 JWTs signed with the configured jwt_secret.
// The "sub" claim is the user ID. Issuing tokens is normally someone else's
// job; the CLI's token command exists for development and testing:
//
//	v, err := auth.NewJWTVerifier([]byte(secret))
//	token, err := v.Generate(userID, 24*time.Hour)
//
// # HTTP middleware
//
// HTTPAuthMiddleware accepts the token from, in order:
//
//   - Authorization: Bearer <token>
//   - the "token" cookie
//   - the "token" query parameter
//
// The subject must name an existing user. The resolved identity is stored in
// the request context:
//
//	authCtx := auth.FromContext(r.Context())
//
// Handlers then call CheckActingAs to refuse requests or socket events that
// name a different user than the token does.
//
// When no jwt_secret is configured the middleware is not installed and
// CheckActingAs allows everything.
package auth
