package auth

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
)

// ErrUnauthorized indicates the session's credentials failed verification.
var ErrUnauthorized = errors.New("unauthorized")

// Checker decides whether a session may use a capability.
//
// Check returns false with a nil error for an ordinary deny. A non-nil error
// means the decision could not be made; callers treat it as a deny and keep
// the error as its cause.
type Checker interface {
	Check(ctx context.Context, sessionID, capability string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, sessionID, capability string) (bool, error)

func (f CheckerFunc) Check(ctx context.Context, sessionID, capability string) (bool, error) {
	return f(ctx, sessionID, capability)
}

// AllowAll allows every capability.
type AllowAll struct{}

func (AllowAll) Check(context.Context, string, string) (bool, error) { return true, nil }

// DenyAll denies every capability.
type DenyAll struct{}

func (DenyAll) Check(context.Context, string, string) (bool, error) { return false, nil }

// Grants is a static table of session id to granted capabilities. The "*"
// session id grants to every session.
type Grants map[string][]string

const anySession = "*"

func (g Grants) Check(_ context.Context, sessionID, capability string) (bool, error) {
	if slices.Contains(g[sessionID], capability) {
		return true, nil
	}
	return slices.Contains(g[anySession], capability), nil
}

var (
	_ Checker = AllowAll{}
	_ Checker = DenyAll{}
	_ Checker = Grants(nil)
	_ Checker = CheckerFunc(nil)
)
