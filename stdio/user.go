package stdio

import (
	"os/user"
)

// UserProvider names the local peer. Its result becomes the session id when
// WithSessionID is not used.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider uses the operating system's current user: the username when
// available and the uid otherwise.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}

// StaticUser is a UserProvider with a fixed id.
type StaticUser string

func (s StaticUser) CurrentUserID() (string, error) { return string(s), nil }
