package gemini

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tradehound/gobroker/broker/types"
	"github.com/tradehound/gobroker/pkg/logger"
)

const apiBase = "https://api.gemini.com"

// Client talks to the Gemini exchange. Unlike session-based brokers, every
// private call is individually signed with the API secret, so there is no
// login/refresh lifecycle — only a key pair held for the client's lifetime.
// Each Client is independent of any other.
type Client struct {
	http      *resty.Client
	apiKey    string
	apiSecret []byte
	log       *logrus.Entry

	// nonce is injectable for deterministic signing tests
	nonce func() int64
}

// Options configures a Gemini client.
type Options struct {
	BaseURL   string // override for tests
	APIKey    string
	APISecret string
	Timeout   time.Duration
	Log       *logrus.Entry
}

func New(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = apiBase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logger.WithField("provider", "gemini")
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(base, "/")).
			SetTimeout(timeout).
			SetHeader("User-Agent", "gobroker"),
		apiKey:    opts.APIKey,
		apiSecret: []byte(opts.APISecret),
		log:       log,
		nonce:     func() int64 { return time.Now().UnixNano() },
	}
}

// signPayload builds the signed header set for a private endpoint: the
// request body is base64-encoded JSON carrying the path and a monotonic
// nonce, signed with HMAC-SHA384.
func (c *Client) signPayload(path string, params map[string]any) (map[string]string, error) {
	body := map[string]any{
		"request": path,
		"nonce":   c.nonce(),
	}
	for k, v := range params {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "gemini: encode payload")
	}
	payload := base64.StdEncoding.EncodeToString(raw)

	mac := hmac.New(sha512.New384, c.apiSecret)
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"Content-Type":       "text/plain",
		"Content-Length":     "0",
		"X-GEMINI-APIKEY":    c.apiKey,
		"X-GEMINI-PAYLOAD":   payload,
		"X-GEMINI-SIGNATURE": signature,
		"Cache-Control":      "no-cache",
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	return c.finish(path, resp, err, out)
}

func (c *Client) post(ctx context.Context, path string, params map[string]any, out any) error {
	headers, err := c.signPayload(path, params)
	if err != nil {
		return err
	}
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Post(path)
	return c.finish(path, resp, err, out)
}

func (c *Client) finish(path string, resp *resty.Response, err error, out any) error {
	if err != nil {
		return &types.NetworkError{Endpoint: path, Attempts: 1, Err: err}
	}
	status := resp.StatusCode()
	body := resp.Body()
	switch {
	case status >= 200 && status < 300:
		if out == nil {
			return nil
		}
		return errors.Wrap(json.Unmarshal(body, out), "gemini: decode response")
	case status == 401 || status == 403:
		return &types.AuthError{Endpoint: path, StatusCode: status, Detail: messageFrom(body)}
	case status == 429:
		return &types.RateLimitError{Endpoint: path, Attempts: 1}
	case status >= 500:
		return &types.ServerError{Endpoint: path, StatusCode: status, Attempts: 1, Body: body}
	default:
		return &types.RequestError{Endpoint: path, StatusCode: status, Body: body, Detail: messageFrom(body)}
	}
}

func messageFrom(body []byte) string {
	var m struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	if m.Message != "" {
		return m.Message
	}
	return m.Reason
}

// Ticker is the public ticker for one symbol.
type Ticker struct {
	Bid    string         `json:"bid"`
	Ask    string         `json:"ask"`
	Last   string         `json:"last"`
	Volume map[string]any `json:"volume"`
}

// GetTicker returns the public ticker for a symbol like "btcusd".
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var t Ticker
	if err := c.get(ctx, "/v1/pubticker/"+strings.ToLower(symbol), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetSymbols lists all tradable symbols.
func (c *Client) GetSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	if err := c.get(ctx, "/v1/symbols", &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// Balance is one currency balance on the account.
type Balance struct {
	Currency               string `json:"currency"`
	Amount                 string `json:"amount"`
	Available              string `json:"available"`
	AvailableForWithdrawal string `json:"availableForWithdrawal"`
	Type                   string `json:"type"`
}

// GetAvailableBalances returns the account balances (signed call).
func (c *Client) GetAvailableBalances(ctx context.Context) ([]Balance, error) {
	var balances []Balance
	if err := c.post(ctx, "/v1/balances", nil, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}
