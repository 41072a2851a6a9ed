package types

// Request describes one HTTP call to be executed by the dispatcher. URL may
// be a path relative to the session's base URL or an absolute URL (as handed
// back in a pagination cursor).
type Request struct {
	Method  string
	URL     string
	Query   map[string]string
	Headers map[string]string
	Body    any

	// NoAuth marks endpoints that must be callable without a bearer token
	// (login itself, public market data).
	NoAuth bool
}

// Credentials carries what a user supplies to Login. Password is never
// logged and never persisted.
type Credentials struct {
	Username string
	Password string `json:"-"`

	// MFACode pre-supplies a one-time code so fully scripted logins can skip
	// the challenge resolver.
	MFACode string `json:"-"`
}
