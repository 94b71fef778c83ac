package skyline

import (
	"fmt"
	"sync"

	"github.com/skyline-net/skyline/internal/config"
)

// StaticAuthenticator checks login credentials against a fixed
// in-memory username/token table, backing
// config.AuthorizationKindStatic. Safe for concurrent use since the
// dispatcher may authenticate several peers at once.
type StaticAuthenticator struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewStaticAuthenticator returns a StaticAuthenticator seeded from
// users (username -> token).
func NewStaticAuthenticator(users map[string]string) *StaticAuthenticator {
	copied := make(map[string]string, len(users))
	for k, v := range users {
		copied[k] = v
	}
	return &StaticAuthenticator{users: copied}
}

func (a *StaticAuthenticator) Authenticate(username, token string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	want, ok := a.users[username]
	return ok && want == token, nil
}

// NewAuthenticatorFromConfig builds the Authenticator described by
// cfg. AuthorizationKindDatabase is validated by config.Validate but
// has no backing driver in this build — no database client appears
// anywhere in the retrieved corpus, so there is nothing to ground a
// real implementation on; it is left as an explicit error rather than
// a silent no-op.
func NewAuthenticatorFromConfig(cfg config.AuthorizationConfig, staticUsers map[string]string) (Authenticator, error) {
	if !cfg.Enabled {
		return AllowAllAuthenticator{}, nil
	}
	switch cfg.Kind {
	case config.AuthorizationKindStatic:
		return NewStaticAuthenticator(staticUsers), nil
	case config.AuthorizationKindDatabase:
		return nil, fmt.Errorf("skyline: database authorization kind has no driver wired in this build")
	default:
		return nil, fmt.Errorf("skyline: unknown authorization kind %q", cfg.Kind)
	}
}
