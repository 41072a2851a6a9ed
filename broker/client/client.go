package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tradehound/gobroker/broker/types"
	"github.com/tradehound/gobroker/pkg/config"
	"github.com/tradehound/gobroker/pkg/credstore"
	"github.com/tradehound/gobroker/pkg/logger"
	"github.com/tradehound/gobroker/pkg/ratelimit"
)

// Challenge is a server-issued verification step during login. Type is
// "mfa" for authenticator-app codes and "challenge" for out-of-band
// (sms/email) codes.
type Challenge struct {
	Type              string
	ID                string
	RemainingAttempts int
}

// ChallengeResolver supplies the out-of-band code for a Challenge. It is
// called from inside Login and may block (prompting a user, polling an
// inbox) until a code is available or ctx is done.
type ChallengeResolver func(ctx context.Context, ch Challenge) (string, error)

// Endpoints names the provider's auth endpoints. Login doubles as the token
// endpoint for both password and refresh_token grants.
type Endpoints struct {
	Login            string
	Revoke           string
	ChallengeRespond func(id string) string
}

// Options configures a Client. Zero-value fields fall back to defaults.
type Options struct {
	BaseURL  string
	ClientID string
	Scope    string

	// ChallengeType is requested at login: "sms" or "email".
	ChallengeType string

	// ChallengeHeader carries the validated challenge id on the login
	// retry. Providers override it (Robinhood uses its own name).
	ChallengeHeader string

	Endpoints Endpoints
	Config    config.Config
	Store     credstore.Store
	Limiter   ratelimit.Limiter
	Log       *logrus.Entry
}

// Client owns one authenticated session against one provider. All methods
// are safe for concurrent use; the token pair is the only shared mutable
// state and is guarded by mu plus the single-refresh-in-flight group.
type Client struct {
	opts    Options
	cfg     config.Config
	http    *resty.Client
	store   credstore.Store
	limiter ratelimit.Limiter
	log     *logrus.Entry

	mu       sync.Mutex
	sess     *types.Session
	state    types.State
	user     string
	resolver ChallengeResolver

	// one refresh in flight per session; late arrivals attach to the same
	// outcome.
	refreshGroup singleflight.Group

	// test hooks
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client from opts.
func New(opts Options) *Client {
	cfg := opts.Config
	if cfg.MaxAttempts == 0 {
		cfg = config.Default()
	}
	if opts.ChallengeHeader == "" {
		opts.ChallengeHeader = "X-Challenge-Response-ID"
	}
	if opts.ChallengeType == "" {
		opts.ChallengeType = "sms"
	}

	httpc := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(cfg.HTTPTimeout).
		SetRetryCount(0). // the dispatcher owns retry policy
		SetHeader("Accept", "*/*").
		SetHeader("Connection", "keep-alive").
		SetHeader("User-Agent", "gobroker")

	store := opts.Store
	if store == nil {
		store = credstore.NewFileStore(cfg.CredentialDir)
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.None{}
	}
	log := opts.Log
	if log == nil {
		log = logger.WithField("component", "broker")
	}

	return &Client{
		opts:    opts,
		cfg:     cfg,
		http:    httpc,
		store:   store,
		limiter: limiter,
		log:     log,
		state:   types.StateUnauthenticated,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OnChallenge registers the resolver invoked when the server demands a
// second factor during Login.
func (c *Client) OnChallenge(r ChallengeResolver) {
	c.mu.Lock()
	c.resolver = r
	c.mu.Unlock()
}

// Session returns a snapshot of the current session, or nil before login.
func (c *Client) Session() *types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	snap := *c.sess
	return &snap
}

// State returns the current lifecycle state.
func (c *Client) State() types.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState never leaves Closed: a Logout racing a login or refresh must stay
// terminal.
func (c *Client) setState(s types.State) {
	c.mu.Lock()
	if c.state != types.StateClosed {
		c.state = s
		if c.sess != nil {
			c.sess.State = s
		}
	}
	c.mu.Unlock()
}

type loginResponse struct {
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"`
	RefreshToken string          `json:"refresh_token"`
	MFARequired  bool            `json:"mfa_required"`
	Challenge    *challengeState `json:"challenge"`
	Detail       string          `json:"detail"`
}

type challengeState struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	RemainingAttempts int    `json:"remaining_attempts"`
}

// Login establishes the session. A persisted refresh token for the user is
// tried first so repeat logins skip the password (and MFA) round trip; when
// that is absent or rejected the password grant runs, resolving any
// server-issued challenge through the registered resolver.
func (c *Client) Login(ctx context.Context, creds types.Credentials) (*types.Session, error) {
	c.mu.Lock()
	if c.state == types.StateClosed {
		c.mu.Unlock()
		return nil, types.ErrSessionClosed
	}
	c.state = types.StateAuthenticating
	c.user = creds.Username
	c.mu.Unlock()

	stored, err := c.store.Load(creds.Username)
	if err != nil {
		c.log.WithError(err).Warn("credential store unreadable, proceeding with fresh login")
		stored = nil
	}

	deviceToken := uuid.NewString()
	if stored != nil && stored.DeviceToken != "" {
		deviceToken = stored.DeviceToken
	}

	if stored != nil && stored.RefreshToken != "" {
		sess, err := c.grantRefreshToken(ctx, stored.RefreshToken, deviceToken)
		if err == nil {
			c.log.WithField("user", creds.Username).Info("session resumed from stored refresh token")
			return sess, nil
		}
		var authErr *types.AuthError
		if !errors.As(err, &authErr) {
			c.setState(types.StateUnauthenticated)
			return nil, err
		}
		c.log.WithField("user", creds.Username).Info("stored refresh token rejected, logging in with password")
	}

	payload := map[string]any{
		"client_id":      c.opts.ClientID,
		"grant_type":     "password",
		"username":       creds.Username,
		"password":       creds.Password,
		"scope":          c.opts.Scope,
		"expires_in":     c.cfg.ExpiresIn,
		"device_token":   deviceToken,
		"challenge_type": c.opts.ChallengeType,
	}
	if creds.MFACode != "" {
		payload["mfa_code"] = creds.MFACode
	}

	lr, err := c.postToken(ctx, payload, nil)
	if err != nil {
		c.setState(types.StateUnauthenticated)
		return nil, err
	}

	switch {
	case lr.AccessToken != "":
		// no second factor demanded
	case lr.MFARequired:
		lr, err = c.completeMFA(ctx, payload)
	case lr.Challenge != nil:
		lr, err = c.completeChallenge(ctx, payload, lr.Challenge)
	default:
		err = &types.AuthError{Endpoint: c.opts.Endpoints.Login, Detail: lr.Detail}
	}
	if err != nil {
		c.setState(types.StateUnauthenticated)
		return nil, err
	}

	return c.installSession(lr, deviceToken)
}

// completeMFA re-submits the password grant with codes from the resolver
// until the server accepts one or the attempt budget runs out.
func (c *Client) completeMFA(ctx context.Context, payload map[string]any) (*loginResponse, error) {
	resolver := c.challengeResolver()
	if resolver == nil {
		return nil, &types.ChallengeError{Detail: "mfa required but no challenge resolver registered"}
	}

	var lastDetail string
	for attempt := 1; attempt <= c.cfg.MFAAttempts; attempt++ {
		c.setState(types.StateChallengePending)
		code, err := resolver(ctx, Challenge{Type: "mfa", RemainingAttempts: c.cfg.MFAAttempts - attempt + 1})
		c.setState(types.StateAuthenticating)
		if err != nil {
			return nil, &types.ChallengeError{Attempts: attempt, Detail: err.Error()}
		}

		payload["mfa_code"] = code
		lr, err := c.postToken(ctx, payload, nil)
		if err != nil {
			return nil, err
		}
		if lr.AccessToken != "" {
			return lr, nil
		}
		lastDetail = lr.Detail
		c.log.WithField("attempt", attempt).Warn("mfa code rejected")
	}
	if lastDetail == "" {
		lastDetail = "mfa attempts exhausted"
	}
	return nil, &types.ChallengeError{Attempts: c.cfg.MFAAttempts, Detail: lastDetail}
}

// completeChallenge answers a server-issued challenge (sms/email code),
// then replays the login carrying the validated challenge id.
func (c *Client) completeChallenge(ctx context.Context, payload map[string]any, ch *challengeState) (*loginResponse, error) {
	resolver := c.challengeResolver()
	if resolver == nil {
		return nil, &types.ChallengeError{Detail: "challenge issued but no challenge resolver registered"}
	}

	respond := c.opts.Endpoints.ChallengeRespond
	if respond == nil {
		return nil, errors.New("client: challenge respond endpoint not configured")
	}

	attempts := 0
	for {
		attempts++
		if attempts > c.cfg.MFAAttempts {
			return nil, &types.ChallengeError{Attempts: attempts - 1, Detail: "challenge attempts exhausted"}
		}

		c.setState(types.StateChallengePending)
		code, err := resolver(ctx, Challenge{Type: "challenge", ID: ch.ID, RemainingAttempts: ch.RemainingAttempts})
		c.setState(types.StateAuthenticating)
		if err != nil {
			return nil, &types.ChallengeError{Attempts: attempts, Detail: err.Error()}
		}

		env, err := c.Call(ctx, &types.Request{
			Method: "POST",
			URL:    respond(ch.ID),
			Body:   map[string]any{"response": code},
			NoAuth: true,
		})
		body, err := envelopeOrErrorBody(env, err)
		if err != nil {
			return nil, err
		}

		var result struct {
			ID                string          `json:"id"`
			Status            string          `json:"status"`
			RemainingAttempts int             `json:"remaining_attempts"`
			Challenge         *challengeState `json:"challenge"`
		}
		if uerr := json.Unmarshal(body, &result); uerr != nil {
			return nil, errors.Wrap(uerr, "client: decode challenge response")
		}
		if result.Challenge != nil {
			// some providers nest the updated challenge
			result.Status = result.Challenge.Status
			result.RemainingAttempts = result.Challenge.RemainingAttempts
		}

		if result.Status == "validated" {
			lr, err := c.postToken(ctx, payload, map[string]string{c.opts.ChallengeHeader: ch.ID})
			if err != nil {
				return nil, err
			}
			if lr.AccessToken == "" {
				return nil, &types.AuthError{Endpoint: c.opts.Endpoints.Login, Detail: lr.Detail}
			}
			return lr, nil
		}
		if result.RemainingAttempts <= 0 {
			return nil, &types.ChallengeError{Attempts: attempts, Detail: "challenge verification exhausted server-side"}
		}
		ch.RemainingAttempts = result.RemainingAttempts
		c.log.WithFields(logrus.Fields{"attempt": attempts, "remaining": result.RemainingAttempts}).
			Warn("challenge code rejected")
	}
}

func (c *Client) challengeResolver() ChallengeResolver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolver
}

// postToken posts to the token endpoint and normalizes the outcome: bad
// credentials surface as AuthError, challenge payloads come back decoded.
func (c *Client) postToken(ctx context.Context, payload map[string]any, headers map[string]string) (*loginResponse, error) {
	env, err := c.Call(ctx, &types.Request{
		Method:  "POST",
		URL:     c.opts.Endpoints.Login,
		Headers: headers,
		Body:    payload,
		NoAuth:  true,
	})
	body, err := envelopeOrErrorBody(env, err)
	if err != nil {
		return nil, err
	}

	var lr loginResponse
	if uerr := json.Unmarshal(body, &lr); uerr != nil {
		return nil, errors.Wrap(uerr, "client: decode token response")
	}
	return &lr, nil
}

// envelopeOrErrorBody folds the dispatcher outcome for auth endpoints:
// 4xx bodies still carry meaning there (mfa_required, challenge, detail),
// except that a plain credential rejection becomes an AuthError.
func envelopeOrErrorBody(env *types.Envelope, err error) (json.RawMessage, error) {
	if err == nil {
		return env.Raw, nil
	}
	var reqErr *types.RequestError
	if errors.As(err, &reqErr) {
		var peek struct {
			MFARequired bool            `json:"mfa_required"`
			Challenge   json.RawMessage `json:"challenge"`
		}
		_ = json.Unmarshal(reqErr.Body, &peek)
		if peek.MFARequired || len(peek.Challenge) > 0 {
			return reqErr.Body, nil
		}
		return nil, &types.AuthError{
			Endpoint:   reqErr.Endpoint,
			StatusCode: reqErr.StatusCode,
			Detail:     reqErr.Detail,
		}
	}
	return nil, err
}

// installSession swaps in the freshly issued token set and persists the
// long-lived artifacts. A client closed while the grant was in flight stays
// closed: nothing is installed or persisted.
func (c *Client) installSession(lr *loginResponse, deviceToken string) (*types.Session, error) {
	now := c.now()
	tokenType := lr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	sess := &types.Session{
		ID:           uuid.NewString(),
		BaseURL:      c.opts.BaseURL,
		TokenType:    tokenType,
		AccessToken:  lr.AccessToken,
		RefreshToken: lr.RefreshToken,
		DeviceToken:  deviceToken,
		ExpiresAt:    tokenExpiry(lr.AccessToken, lr.ExpiresIn, now),
		State:        types.StateAuthenticated,
	}

	c.mu.Lock()
	if c.state == types.StateClosed {
		c.mu.Unlock()
		return nil, types.ErrSessionClosed
	}
	c.sess = sess
	c.state = types.StateAuthenticated
	user := c.user
	c.mu.Unlock()

	if err := c.store.Save(user, &credstore.StoredCredentials{
		DeviceToken:  deviceToken,
		RefreshToken: lr.RefreshToken,
		IssuedAt:     now,
	}); err != nil {
		c.log.WithError(err).Warn("failed to persist credentials")
	}

	c.log.WithFields(logrus.Fields{"user": user, "expires_at": sess.ExpiresAt}).
		Info("session established")

	snap := *sess
	return &snap, nil
}

// tokenExpiry prefers the exp claim when the access token is a JWT, falling
// back to the server-advertised lifetime.
func tokenExpiry(accessToken string, expiresIn int, now time.Time) time.Time {
	if exp, ok := jwtExpiry(accessToken); ok {
		return exp
	}
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Time{}
}

// Refresh exchanges the refresh token for a new access token. Only one
// refresh runs per session; concurrent callers share its outcome. The
// refresh itself is detached from the caller's cancellation so an aborted
// dependent call cannot leave the session half-refreshed.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.state == types.StateClosed {
		c.mu.Unlock()
		return types.ErrSessionClosed
	}
	if c.sess == nil {
		c.mu.Unlock()
		return &types.AuthError{Endpoint: c.opts.Endpoints.Login, Detail: "login required"}
	}
	stale := c.sess.AccessToken
	c.mu.Unlock()
	return c.refreshIfStale(ctx, stale)
}

// refreshIfStale refreshes only when the session still holds the token that
// was just seen failing. A caller racing in after another caller's refresh
// already replaced the token returns immediately instead of refreshing a
// second time.
func (c *Client) refreshIfStale(ctx context.Context, stale string) error {
	c.mu.Lock()
	if c.state == types.StateClosed {
		c.mu.Unlock()
		return types.ErrSessionClosed
	}
	if c.sess == nil {
		c.mu.Unlock()
		return &types.AuthError{Endpoint: c.opts.Endpoints.Login, Detail: "login required"}
	}
	if c.sess.AccessToken != stale {
		c.mu.Unlock()
		return nil
	}
	key := "refresh:" + c.sess.ID + ":" + stale
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := c.refreshGroup.DoChan(key, func() (interface{}, error) {
		return nil, c.doRefresh(detached)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) doRefresh(ctx context.Context) error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return &types.AuthError{Endpoint: c.opts.Endpoints.Login, Detail: "login required"}
	}
	refreshToken := c.sess.RefreshToken
	deviceToken := c.sess.DeviceToken
	c.mu.Unlock()

	if refreshToken == "" {
		return &types.AuthError{Endpoint: c.opts.Endpoints.Login, Detail: "no refresh token"}
	}

	sess, err := c.grantRefreshToken(ctx, refreshToken, deviceToken)
	if err != nil {
		var authErr *types.AuthError
		if errors.As(err, &authErr) {
			// refresh token dead: session unusable until a fresh Login
			c.setState(types.StateExpired)
			c.log.WithField("user", c.username()).Warn("refresh token rejected, fresh login required")
		}
		return err
	}
	c.log.WithFields(logrus.Fields{"user": c.username(), "expires_at": sess.ExpiresAt}).
		Debug("access token refreshed")
	return nil
}

// grantRefreshToken runs the refresh_token grant and installs the result.
func (c *Client) grantRefreshToken(ctx context.Context, refreshToken, deviceToken string) (*types.Session, error) {
	payload := map[string]any{
		"client_id":     c.opts.ClientID,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"scope":         c.opts.Scope,
		"expires_in":    c.cfg.ExpiresIn,
		"device_token":  deviceToken,
	}
	lr, err := c.postToken(ctx, payload, nil)
	if err != nil {
		return nil, err
	}
	if lr.AccessToken == "" {
		return nil, &types.AuthError{Endpoint: c.opts.Endpoints.Login, Detail: lr.Detail}
	}
	return c.installSession(lr, deviceToken)
}

// Logout revokes the token server-side and closes the session. Idempotent:
// a second Logout is a no-op. Every later operation fails with
// ErrSessionClosed.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	if c.state == types.StateClosed {
		c.mu.Unlock()
		return nil
	}
	sess := c.sess
	user := c.user
	c.state = types.StateClosed
	if sess != nil {
		sess.State = types.StateClosed
	}
	c.sess = nil
	c.mu.Unlock()

	if err := c.store.Clear(user); err != nil {
		c.log.WithError(err).Warn("failed to clear stored credentials")
	}

	if sess == nil || sess.AccessToken == "" || c.opts.Endpoints.Revoke == "" {
		return nil
	}

	// state is already Closed, so revoke goes through the raw transport
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"client_id": c.opts.ClientID, "token": sess.RefreshToken}).
		Post(c.opts.Endpoints.Revoke)
	if err != nil {
		return &types.NetworkError{Endpoint: c.opts.Endpoints.Revoke, Attempts: 1, Err: err}
	}
	if resp.IsError() {
		c.log.WithField("status", resp.StatusCode()).Warn("server-side token revoke failed")
	}
	c.log.WithField("user", user).Info("session closed")
	return nil
}

func (c *Client) username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}
