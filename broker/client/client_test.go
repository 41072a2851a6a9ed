package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradehound/gobroker/broker/types"
	"github.com/tradehound/gobroker/pkg/config"
	"github.com/tradehound/gobroker/pkg/credstore"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HTTPTimeout = 5 * time.Second
	cfg.MaxAttempts = 3
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 50 * time.Millisecond
	cfg.BackoffJitter = 0
	cfg.MFAAttempts = 3
	cfg.CredentialDir = t.TempDir()
	return cfg
}

func newTestClient(t *testing.T, baseURL string, cfg config.Config) *Client {
	t.Helper()
	return New(Options{
		BaseURL:  baseURL,
		ClientID: "test-client",
		Scope:    "internal",
		Endpoints: Endpoints{
			Login:  "/oauth2/token/",
			Revoke: "/oauth2/revoke_token/",
			ChallengeRespond: func(id string) string {
				return "/challenge/" + id + "/respond/"
			},
		},
		Config: cfg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

func tokenResponse(access, refresh string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"refresh_token": refresh,
		"expires_in":    3600,
	}
}

func TestLoginPasswordGrant(t *testing.T) {
	var loginPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/token/", r.URL.Path)
		p := decodeBody(t, r)
		require.Equal(t, "password", p["grant_type"])
		require.Equal(t, "alice", p["username"])
		require.Equal(t, "hunter2", p["password"])
		require.NotEmpty(t, p["device_token"])
		loginPayload = p
		writeJSON(w, http.StatusOK, tokenResponse("tok-1", "ref-1"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testConfig(t))
	sess, err := c.Login(context.Background(), types.Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, "tok-1", sess.AccessToken)
	require.Equal(t, "ref-1", sess.RefreshToken)
	require.Equal(t, types.StateAuthenticated, c.State())
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, 5*time.Second)

	stored, err := c.store.Load("alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "ref-1", stored.RefreshToken)
	assert.Equal(t, loginPayload["device_token"], stored.DeviceToken)
}

func TestLoginBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "unable to log in with provided credentials"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testConfig(t))
	_, err := c.Login(context.Background(), types.Credentials{Username: "alice", Password: "wrong"})
	var authErr *types.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "unable to log in with provided credentials", authErr.Detail)
	assert.Equal(t, types.StateUnauthenticated, c.State())
}

func TestLoginMFAFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := decodeBody(t, r)
		switch p["mfa_code"] {
		case nil:
			writeJSON(w, http.StatusOK, map[string]any{"mfa_required": true})
		case "000000":
			writeJSON(w, http.StatusOK, map[string]any{"mfa_required": true, "detail": "invalid code"})
		case "123456":
			writeJSON(w, http.StatusOK, tokenResponse("tok-1", "ref-1"))
		default:
			t.Errorf("unexpected mfa_code %v", p["mfa_code"])
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testConfig(t))
	codes := []string{"000000", "123456"}
	var asked int
	c.OnChallenge(func(ctx context.Context, ch Challenge) (string, error) {
		require.Equal(t, "mfa", ch.Type)
		code := codes[asked]
		asked++
		return code, nil
	})

	sess, err := c.Login(context.Background(), types.Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", sess.AccessToken)
	assert.Equal(t, 2, asked)
}

func TestLoginMFAExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"mfa_required": true, "detail": "invalid code"})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.MFAAttempts = 2
	c := newTestClient(t, srv.URL, cfg)
	c.OnChallenge(func(ctx context.Context, ch Challenge) (string, error) {
		return "000000", nil
	})

	_, err := c.Login(context.Background(), types.Credentials{Username: "alice", Password: "hunter2"})
	var chErr *types.ChallengeError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, 2, chErr.Attempts)
}

func TestLoginNoResolverRegistered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"mfa_required": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testConfig(t))
	_, err := c.Login(context.Background(), types.Credentials{Username: "alice", Password: "hunter2"})
	var chErr *types.ChallengeError
	require.ErrorAs(t, err, &chErr)
}

func TestLoginChallengeFlow(t *testing.T) {
	var sawChallengeHeader atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token/":
			if r.Header.Get("X-Challenge-Response-ID") == "ch-1" {
				sawChallengeHeader.Store(true)
				writeJSON(w, http.StatusOK, tokenResponse("tok-1", "ref-1"))
				return
			}
			writeJSON(w, http.StatusForbidden, map[string]any{
				"challenge": map[string]any{"id": "ch-1", "status": "issued", "remaining_attempts": 3},
			})
		case "/challenge/ch-1/respond/":
			p := decodeBody(t, r)
			if p["response"] == "424242" {
				writeJSON(w, http.StatusOK, map[string]any{"id": "ch-1", "status": "validated"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"challenge": map[string]any{"id": "ch-1", "status": "issued", "remaining_attempts": 2},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testConfig(t))
	codes := []string{"111111", "424242"}
	var asked int
	c.OnChallenge(func(ctx context.Context, ch Challenge) (string, error) {
		require.Equal(t, "challenge", ch.Type)
		require.Equal(t, "ch-1", ch.ID)
		code := codes[asked]
		asked++
		return code, nil
	})

	sess, err := c.Login(context.Background(), types.Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", sess.AccessToken)
	assert.Equal(t, 2, asked)
	assert.True(t, sawChallengeHeader.Load())
}

func TestLoginResumesFromStoredRefreshToken(t *testing.T) {
	var passwordGrants, refreshGrants atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := decodeBody(t, r)
		switch p["grant_type"] {
		case "refresh_token":
			refreshGrants.Add(1)
			require.Equal(t, "ref-0", p["refresh_token"])
			require.Equal(t, "dev-0", p["device_token"])
			writeJSON(w, http.StatusOK, tokenResponse("tok-1", "ref-1"))
		default:
			passwordGrants.Add(1)
			writeJSON(w, http.StatusOK, tokenResponse("tok-1", "ref-1"))
		}
	}))
	defer srv.Close()

	store := credstore.NewFileStore(t.TempDir())
	require.NoError(t, store.Save("alice", &credstore.StoredCredentials{
		DeviceToken:  "dev-0",
		RefreshToken: "ref-0",
		IssuedAt:     time.Now(),
	}))

	cfg := testConfig(t)
	c := New(Options{
		BaseURL:   srv.URL,
		ClientID:  "test-client",
		Endpoints: Endpoints{Login: "/oauth2/token/"},
		Config:    cfg,
		Store:     store,
	})

	sess, err := c.Login(context.Background(), types.Credentials{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", sess.AccessToken)
	assert.Equal(t, "dev-0", sess.DeviceToken)
	assert.Equal(t, int32(1), refreshGrants.Load())
	assert.Equal(t, int32(0), passwordGrants.Load())
}

func TestLoginFallsBackWhenStoredRefreshRejected(t *testing.T) {
	var passwordGrants atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := decodeBody(t, r)
		switch p["grant_type"] {
		case "refresh_token":
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "refresh token expired"})
		default:
			passwordGrants.Add(1)
			writeJSON(w, http.StatusOK, tokenResponse("tok-1", "ref-1"))
		}
	}))
	defer srv.Close()

	store := credstore.NewFileStore(t.TempDir())
	require.NoError(t, store.Save("alice", &credstore.StoredCredentials{
		DeviceToken:  "dev-0",
		RefreshToken: "ref-dead",
	}))

	c := New(Options{
		BaseURL:   srv.URL,
		ClientID:  "test-client",
		Endpoints: Endpoints{Login: "/oauth2/token/"},
		Config:    testConfig(t),
		Store:     store,
	})

	sess, err := c.Login(context.Background(), types.Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", sess.AccessToken)
	assert.Equal(t, int32(1), passwordGrants.Load())
	// device token survives the rejected refresh token
	assert.Equal(t, "dev-0", sess.DeviceToken)
}

func TestLogoutIdempotentAndCloses(t *testing.T) {
	var revokes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token/":
			writeJSON(w, http.StatusOK, tokenResponse("tok-1", "ref-1"))
		case "/oauth2/revoke_token/":
			revokes.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testConfig(t))
	ctx := context.Background()
	_, err := c.Login(ctx, types.Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	require.NoError(t, c.Logout(ctx))
	require.Equal(t, types.StateClosed, c.State())
	require.Equal(t, int32(1), revokes.Load())

	stored, err := c.store.Load("alice")
	require.NoError(t, err)
	assert.Nil(t, stored, "logout clears persisted artifacts")

	// second logout is a no-op, not an error
	require.NoError(t, c.Logout(ctx))
	require.Equal(t, int32(1), revokes.Load())

	_, err = c.Call(ctx, &types.Request{Method: "GET", URL: "/anything"})
	require.ErrorIs(t, err, types.ErrSessionClosed)
	require.ErrorIs(t, c.Refresh(ctx), types.ErrSessionClosed)
	_, err = c.Login(ctx, types.Credentials{Username: "alice", Password: "hunter2"})
	require.ErrorIs(t, err, types.ErrSessionClosed)
}

func TestLogoutDuringLoginKeepsClientClosed(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token/":
			once.Do(func() { close(entered) })
			<-release
			writeJSON(w, http.StatusOK, tokenResponse("tok-1", "ref-1"))
		case "/oauth2/revoke_token/":
			writeJSON(w, http.StatusOK, map[string]any{})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testConfig(t))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(ctx, types.Credentials{Username: "alice", Password: "hunter2"})
		done <- err
	}()
	<-entered

	// logout lands while the token grant is still in flight
	require.NoError(t, c.Logout(ctx))
	require.Equal(t, types.StateClosed, c.State())
	close(release)

	require.ErrorIs(t, <-done, types.ErrSessionClosed)
	require.Equal(t, types.StateClosed, c.State())
	assert.Nil(t, c.Session(), "late grant must not install a session")

	_, err := c.Call(ctx, &types.Request{Method: "GET", URL: "/anything"})
	require.ErrorIs(t, err, types.ErrSessionClosed)

	stored, err := c.store.Load("alice")
	require.NoError(t, err)
	assert.Nil(t, stored, "late grant must not re-persist cleared credentials")
}

func TestRefreshTokenRejectedRequiresFreshLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := decodeBody(t, r)
		if p["grant_type"] == "refresh_token" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "invalid refresh token"})
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse("tok-1", "ref-dead"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testConfig(t))
	ctx := context.Background()
	_, err := c.Login(ctx, types.Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	err = c.Refresh(ctx)
	var authErr *types.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, types.StateExpired, c.State())
}

func TestLoginSurfacesNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	cfg := testConfig(t)
	cfg.MaxAttempts = 2
	c := newTestClient(t, srv.URL, cfg)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err := c.Login(context.Background(), types.Credentials{Username: "alice", Password: "hunter2"})
	var netErr *types.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, 2, netErr.Attempts)
	require.Error(t, errors.Cause(netErr.Err))
}
