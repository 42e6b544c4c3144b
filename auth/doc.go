// Package auth provides the access-control hook consulted before a handler
// that declares a capability requirement is allowed to run.
//
// The dispatch engine does not authenticate callers. It asks a Checker
// whether a session may use a capability tag, and a deny fails the call with
// a permission_denied error before the handler starts. Checkers are plain
// interfaces so transports can back them with whatever identity they have.
//
// # Static grants
//
// Grants maps session ids to the capabilities they hold:
//
//	checker := auth.Grants{"s1": {"admin", "billing:read"}}
//
// # Bearer tokens
//
// JWTChecker reads capabilities from the space-delimited scope claim of a
// JWT bound to the session by the transport. Keys come from an HMAC secret,
// a JWKS endpoint, or a JWKS endpoint discovered from an OpenID issuer:
//
//	checker, err := auth.NewJWTChecker(ctx,
//	    auth.WithIssuerDiscovery("https://issuer.example"),
//	    auth.WithAudience("https://mcp.example/api"),
//	)
//	if err != nil { log.Fatal(err) }
//	checker.BindToken(sessionID, bearerToken)
//
// Tokens must carry exp. A token that fails verification denies every
// capability; the verification failure is returned alongside the deny
// wrapped in ErrUnauthorized.
package auth
