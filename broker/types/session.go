package types

import "time"

// State tracks where a session is in its lifecycle. Transitions:
// Unauthenticated -> Authenticating -> (ChallengePending -> Authenticating)*
// -> Authenticated -> Expired -> Authenticating | Closed. Closed is terminal.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateChallengePending
	StateAuthenticated
	StateExpired
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateChallengePending:
		return "challenge_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the live authenticated context for one user against one
// provider. It is owned by exactly one client and mutated only by
// login/refresh/logout under the client's lock.
type Session struct {
	ID           string
	BaseURL      string
	TokenType    string
	AccessToken  string
	RefreshToken string
	DeviceToken  string
	ExpiresAt    time.Time
	State        State
}

// Expired reports whether the access token is past (or within skew of) its
// expiry. A zero ExpiresAt means the server gave no expiry and the token is
// treated as live until a 401 says otherwise.
func (s *Session) Expired(now time.Time, skew time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt.Add(-skew))
}
