package robinhood

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/tradehound/gobroker/broker/types"
)

// Quote is one entry from the quotes endpoint.
type Quote struct {
	Symbol                 string `json:"symbol"`
	AskPrice               string `json:"ask_price"`
	AskSize                int64  `json:"ask_size"`
	BidPrice               string `json:"bid_price"`
	BidSize                int64  `json:"bid_size"`
	LastTradePrice         string `json:"last_trade_price"`
	LastExtendedHoursPrice string `json:"last_extended_hours_trade_price"`
	PreviousClose          string `json:"previous_close"`
	TradingHalted          bool   `json:"trading_halted"`
	HasTraded              bool   `json:"has_traded"`
	UpdatedAt              string `json:"updated_at"`
	InstrumentURL          string `json:"instrument"`
	InstrumentID           string `json:"instrument_id"`
}

// Instrument describes a tradable security.
type Instrument struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Symbol     string `json:"symbol"`
	SimpleName string `json:"simple_name"`
	Name       string `json:"name"`
	Tradeable  bool   `json:"tradeable"`
	Country    string `json:"country"`
	ListDate   string `json:"list_date"`
}

// Fundamentals is the per-symbol fundamentals payload.
type Fundamentals struct {
	Symbol        string `json:"symbol"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Volume        string `json:"volume"`
	AverageVolume string `json:"average_volume"`
	High52Weeks   string `json:"high_52_weeks"`
	Low52Weeks    string `json:"low_52_weeks"`
	MarketCap     string `json:"market_cap"`
	PERatio       string `json:"pe_ratio"`
	DividendYield string `json:"dividend_yield"`
	Description   string `json:"description"`
}

func normalizeSymbols(symbols []string) string {
	up := make([]string, 0, len(symbols))
	seen := map[string]bool{}
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		up = append(up, s)
	}
	return strings.Join(up, ",")
}

// GetQuotes returns current quote data for the given symbols.
func (c *Client) GetQuotes(ctx context.Context, symbols ...string) ([]Quote, error) {
	env, err := c.Call(ctx, &types.Request{
		Method: "GET",
		URL:    endpointQuotes,
		Query:  map[string]string{"symbols": normalizeSymbols(symbols)},
	})
	if err != nil {
		return nil, err
	}
	return types.DecodeResults[Quote](env)
}

// GetFundamentals returns fundamentals for the given symbols.
func (c *Client) GetFundamentals(ctx context.Context, symbols ...string) ([]Fundamentals, error) {
	env, err := c.Call(ctx, &types.Request{
		Method: "GET",
		URL:    endpointFundamentals,
		Query:  map[string]string{"symbols": normalizeSymbols(symbols)},
	})
	if err != nil {
		return nil, err
	}
	return types.DecodeResults[Fundamentals](env)
}

// GetInstrumentBySymbol looks a security up by ticker. Lookups are cached.
func (c *Client) GetInstrumentBySymbol(ctx context.Context, symbol string) (*Instrument, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if inst, ok := c.instruments.Get(symbol); ok {
		return &inst, nil
	}

	env, err := c.Call(ctx, &types.Request{
		Method: "GET",
		URL:    endpointInstruments,
		Query:  map[string]string{"symbol": symbol},
	})
	if err != nil {
		return nil, err
	}
	instruments, err := types.DecodeResults[Instrument](env)
	if err != nil {
		return nil, err
	}
	if len(instruments) == 0 {
		return nil, errors.Errorf("robinhood: no instrument for symbol %q", symbol)
	}
	c.instruments.Set(symbol, instruments[0])
	return &instruments[0], nil
}

// IDForStock resolves a ticker to its instrument id.
func (c *Client) IDForStock(ctx context.Context, symbol string) (string, error) {
	inst, err := c.GetInstrumentBySymbol(ctx, symbol)
	if err != nil {
		return "", err
	}
	return inst.ID, nil
}
