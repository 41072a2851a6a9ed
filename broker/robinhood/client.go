package robinhood

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradehound/gobroker/broker/client"
	"github.com/tradehound/gobroker/pkg/cache"
	"github.com/tradehound/gobroker/pkg/config"
	"github.com/tradehound/gobroker/pkg/credstore"
	"github.com/tradehound/gobroker/pkg/logger"
	"github.com/tradehound/gobroker/pkg/ratelimit"
)

// clientID is the public OAuth application id the official web client uses.
const clientID = "c82SH0WZOsabOXGP2sxqcj34FxkvfnWRZBKlBjFS"

// Client is a Robinhood API client: the generic session/dispatch layer plus
// the typed endpoint wrappers in this package.
type Client struct {
	*client.Client

	// instruments are immutable for practical purposes, so symbol lookups
	// are cached to save a round trip per order.
	instruments *cache.TTLCache[string, Instrument]
}

// Options tailors a Robinhood client. Zero values use defaults.
type Options struct {
	// BaseURL overrides the production API host, mainly for tests.
	BaseURL string

	// ChallengeType selects how login challenges are delivered: "sms"
	// (default) or "email".
	ChallengeType string

	Config  config.Config
	Store   credstore.Store
	Limiter ratelimit.Limiter
	Log     *logrus.Entry
}

// New builds a Robinhood client.
func New(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = apiBase
	}
	log := opts.Log
	if log == nil {
		log = logger.WithField("provider", "robinhood")
	}

	return &Client{
		instruments: cache.NewTTLCache[string, Instrument](12 * time.Hour),
		Client: client.New(client.Options{
			BaseURL:         base,
			ClientID:        clientID,
			Scope:           "internal",
			ChallengeType:   opts.ChallengeType,
			ChallengeHeader: challengeHeader,
			Endpoints: client.Endpoints{
				Login:            endpointLogin,
				Revoke:           endpointRevoke,
				ChallengeRespond: endpointChallenge,
			},
			Config:  opts.Config,
			Store:   opts.Store,
			Limiter: opts.Limiter,
			Log:     log,
		}),
	}
}
