package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/cockroachdb/errors"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultScopeClaim     = "scope"
	defaultTokenCacheSize = 4096
	defaultLeeway         = 60 * time.Second
)

type jwtConfig struct {
	secret     []byte
	jwksURL    string
	jwksJSON   json.RawMessage
	discover   string
	issuer     string
	audiences  []string
	algs       []string
	leeway     time.Duration
	scopeClaim string
	cacheSize  int
	log        *slog.Logger
}

// JWTOption configures a JWTChecker.
type JWTOption func(*jwtConfig)

// WithHMACSecret verifies tokens with a shared secret (HS256 by default).
func WithHMACSecret(secret []byte) JWTOption {
	return func(c *jwtConfig) { c.secret = secret }
}

// WithJWKS verifies tokens with the auto-refreshing key set at url.
func WithJWKS(url string) JWTOption {
	return func(c *jwtConfig) { c.jwksURL = url }
}

// WithJWKSJSON verifies tokens with a fixed JWK Set document.
func WithJWKSJSON(raw json.RawMessage) JWTOption {
	return func(c *jwtConfig) { c.jwksJSON = raw }
}

// WithIssuerDiscovery resolves the key set from the issuer's OpenID
// configuration and requires tokens to carry that issuer.
func WithIssuerDiscovery(issuer string) JWTOption {
	return func(c *jwtConfig) { c.discover = issuer }
}

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) JWTOption {
	return func(c *jwtConfig) { c.issuer = issuer }
}

// WithAudience requires the aud claim to contain at least one of auds.
func WithAudience(auds ...string) JWTOption {
	return func(c *jwtConfig) { c.audiences = append(c.audiences, auds...) }
}

// WithAllowedAlgs overrides the accepted signing algorithms.
func WithAllowedAlgs(algs ...string) JWTOption {
	return func(c *jwtConfig) { c.algs = algs }
}

// WithLeeway sets the clock skew tolerance for exp, nbf and iat.
func WithLeeway(d time.Duration) JWTOption {
	return func(c *jwtConfig) { c.leeway = d }
}

// WithScopeClaim reads capabilities from claim instead of "scope".
func WithScopeClaim(claim string) JWTOption {
	return func(c *jwtConfig) { c.scopeClaim = claim }
}

// WithTokenCacheSize bounds the number of sessions with a bound token.
func WithTokenCacheSize(n int) JWTOption {
	return func(c *jwtConfig) { c.cacheSize = n }
}

// WithJWTLogger sets the logger for verification failures.
func WithJWTLogger(l *slog.Logger) JWTOption {
	return func(c *jwtConfig) { c.log = l }
}

// JWTChecker grants the capabilities listed in the scope claim of the token
// bound to a session.
type JWTChecker struct {
	cfg     jwtConfig
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
	tokens  *lru.Cache[string, string]
}

var _ Checker = (*JWTChecker)(nil)

// NewJWTChecker builds a JWTChecker. Exactly one key source must be
// configured. ctx bounds discovery and the initial key set fetch.
func NewJWTChecker(ctx context.Context, opts ...JWTOption) (*JWTChecker, error) {
	cfg := jwtConfig{
		leeway:     defaultLeeway,
		scopeClaim: defaultScopeClaim,
		cacheSize:  defaultTokenCacheSize,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sources := 0
	for _, set := range []bool{len(cfg.secret) > 0, cfg.jwksURL != "", len(cfg.jwksJSON) > 0, cfg.discover != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.Newf("auth: exactly one key source is required, got %d", sources)
	}

	kf, err := cfg.resolveKeys(ctx)
	if err != nil {
		return nil, err
	}

	tokens, err := lru.New[string, string](cfg.cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "auth: token cache")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.algs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.leeway),
	}
	if cfg.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.issuer))
	}

	return &JWTChecker{
		cfg:     cfg,
		keyfunc: kf,
		parser:  jwt.NewParser(parserOpts...),
		tokens:  tokens,
	}, nil
}

func (c *jwtConfig) resolveKeys(ctx context.Context) (jwt.Keyfunc, error) {
	if len(c.secret) > 0 {
		if len(c.algs) == 0 {
			c.algs = []string{"HS256"}
		}
		secret := c.secret
		return func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Newf("unexpected signing method %s", t.Method.Alg())
			}
			return secret, nil
		}, nil
	}

	if len(c.algs) == 0 {
		c.algs = []string{"RS256"}
	}

	var (
		kf  keyfunc.Keyfunc
		err error
	)
	switch {
	case len(c.jwksJSON) > 0:
		kf, err = keyfunc.NewJWKSetJSON(c.jwksJSON)
	case c.jwksURL != "":
		kf, err = keyfunc.NewDefaultCtx(ctx, []string{c.jwksURL})
	default:
		var jwksURL string
		jwksURL, err = c.discoverJWKS(ctx)
		if err == nil {
			kf, err = keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "auth: jwks init failed")
	}
	return kf.Keyfunc, nil
}

func (c *jwtConfig) discoverJWKS(ctx context.Context) (string, error) {
	provider, err := oidc.NewProvider(ctx, c.discover)
	if err != nil {
		return "", errors.Wrap(err, "oidc discovery failed")
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", errors.Wrap(err, "invalid discovery metadata")
	}
	if meta.JwksURI == "" {
		return "", errors.New("discovery incomplete: missing jwks_uri")
	}
	if c.issuer == "" {
		c.issuer = meta.Issuer
	}
	return meta.JwksURI, nil
}

// BindToken associates a bearer token with sessionID. An empty token
// removes the binding.
func (c *JWTChecker) BindToken(sessionID, token string) {
	if token == "" {
		c.tokens.Remove(sessionID)
		return
	}
	c.tokens.Add(sessionID, token)
}

// Forget removes the token bound to sessionID.
func (c *JWTChecker) Forget(sessionID string) {
	c.tokens.Remove(sessionID)
}

// Check implements Checker. A session with no bound token is denied.
func (c *JWTChecker) Check(ctx context.Context, sessionID, capability string) (bool, error) {
	tok, ok := c.tokens.Get(sessionID)
	if !ok {
		return false, nil
	}
	scopes, err := c.Scopes(tok)
	if err != nil {
		c.cfg.log.WarnContext(ctx, "auth.jwt.check.fail",
			slog.String("session_id", sessionID),
			slog.String("capability", capability),
			slog.String("err", err.Error()),
		)
		return false, err
	}
	return slices.Contains(scopes, capability), nil
}

// Scopes verifies token and returns the capabilities it carries.
func (c *JWTChecker) Scopes(token string) ([]string, error) {
	parsed, err := c.parser.Parse(token, c.keyfunc)
	if err != nil {
		return nil, errors.Wrapf(ErrUnauthorized, "token parse/verify failed: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrap(ErrUnauthorized, "invalid claims type")
	}
	if len(c.cfg.audiences) > 0 && !audIntersects(claims["aud"], c.cfg.audiences) {
		return nil, errors.Wrap(ErrUnauthorized, "audience mismatch")
	}
	return scopeList(claims[c.cfg.scopeClaim]), nil
}

func scopeList(v any) []string {
	switch s := v.(type) {
	case string:
		return strings.Fields(s)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return s
	}
	return nil
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
