package client

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/tradehound/gobroker/broker/types"
)

// Call executes one request under the current session with uniform retry and
// error semantics:
//
//   - 401 on an authenticated request: one transparent Refresh, then one
//     retry of the original request, then AuthError.
//   - 429 / 5xx / transport failure: exponential backoff with jitter up to
//     the configured attempt budget, then RateLimitError / ServerError /
//     NetworkError.
//   - other 4xx: RequestError with the decoded error body, no retry.
//
// Pagination is caller-driven: the returned Envelope exposes the next-page
// cursor, Call never follows it (see Pager).
func (c *Client) Call(ctx context.Context, req *types.Request) (*types.Envelope, error) {
	if req.Method == "" {
		req.Method = "GET"
	}
	endpoint := req.URL

	c.mu.Lock()
	state := c.state
	hasSession := c.sess != nil
	expired := c.sess.Expired(c.now(), c.cfg.ExpirySkew)
	c.mu.Unlock()

	if state == types.StateClosed {
		return nil, types.ErrSessionClosed
	}
	if !req.NoAuth {
		if !hasSession {
			return nil, &types.AuthError{Endpoint: endpoint, Detail: "login required"}
		}
		// never dispatch against a token known to be expired
		if expired {
			if err := c.Refresh(ctx); err != nil {
				return nil, err
			}
		}
	}

	refreshed := false
	attempt := 0
	for {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		tokenType, token := c.tokenSnapshot()
		resp, err := c.execute(ctx, req, tokenType, token)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= c.cfg.MaxAttempts {
				return nil, &types.NetworkError{Endpoint: endpoint, Attempts: attempt, Err: err}
			}
			c.log.WithError(err).WithField("attempt", attempt).Debug("transport failure, retrying")
			if serr := c.sleep(ctx, c.delay(attempt, 0)); serr != nil {
				return nil, serr
			}
			continue
		}

		status := resp.StatusCode()
		body := append([]byte(nil), resp.Body()...)

		switch {
		case status >= 200 && status < 300:
			return types.ParseEnvelope(body), nil

		case status == 401 && !req.NoAuth:
			if refreshed {
				return nil, &types.AuthError{Endpoint: endpoint, StatusCode: status, Detail: detailFrom(body)}
			}
			refreshed = true
			if rerr := c.refreshIfStale(ctx, token); rerr != nil {
				return nil, rerr
			}
			// retry the original request exactly once; the refresh retry
			// does not consume the backoff budget
			continue

		case status == 429:
			retryAfter := retryAfterFrom(resp)
			if attempt >= c.cfg.MaxAttempts {
				return nil, &types.RateLimitError{Endpoint: endpoint, Attempts: attempt, RetryAfter: retryAfter}
			}
			c.log.WithField("attempt", attempt).Debug("rate limited, backing off")
			if serr := c.sleep(ctx, c.delay(attempt, retryAfter)); serr != nil {
				return nil, serr
			}
			continue

		case status >= 500:
			if attempt >= c.cfg.MaxAttempts {
				return nil, &types.ServerError{Endpoint: endpoint, StatusCode: status, Attempts: attempt, Body: body}
			}
			c.log.WithFields(logrus.Fields{"status": status, "attempt": attempt}).
				Debug("server error, backing off")
			if serr := c.sleep(ctx, c.delay(attempt, 0)); serr != nil {
				return nil, serr
			}
			continue

		default:
			return nil, &types.RequestError{
				Endpoint:   endpoint,
				StatusCode: status,
				Body:       body,
				Detail:     detailFrom(body),
			}
		}
	}
}

// tokenSnapshot reads the current token pair under the lock. The snapshot
// taken for an attempt is what identifies a stale token on 401.
func (c *Client) tokenSnapshot() (tokenType, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return "", ""
	}
	return c.sess.TokenType, c.sess.AccessToken
}

// execute performs a single attempt, attaching the supplied auth header.
func (c *Client) execute(ctx context.Context, req *types.Request, tokenType, token string) (*resty.Response, error) {
	r := c.http.R().SetContext(ctx)

	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(req.Body)
	}
	if !req.NoAuth && token != "" {
		r.SetHeader("Authorization", tokenType+" "+token)
	}

	return r.Execute(strings.ToUpper(req.Method), req.URL)
}

// delay computes the wait before the next attempt, honoring Retry-After when
// the server sent one that exceeds our own schedule.
func (c *Client) delay(attempt int, retryAfter time.Duration) time.Duration {
	d := BackoffDelay(attempt, c.cfg.BackoffBase, c.cfg.BackoffCap, c.cfg.BackoffJitter)
	if retryAfter > d {
		return retryAfter
	}
	return d
}

func retryAfterFrom(resp *resty.Response) time.Duration {
	v := resp.Header().Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// detailFrom extracts the conventional {"detail": "..."} message.
func detailFrom(body []byte) string {
	var d struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return ""
	}
	if d.Detail != "" {
		return d.Detail
	}
	return d.Error
}
