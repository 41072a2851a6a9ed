package robinhood

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tradehound/gobroker/broker/types"
)

// Position is one holding on the account.
type Position struct {
	URL                    string `json:"url"`
	InstrumentURL          string `json:"instrument"`
	InstrumentID           string `json:"instrument_id"`
	AccountURL             string `json:"account"`
	AccountNumber          string `json:"account_number"`
	Quantity               string `json:"quantity"`
	AverageBuyPrice        string `json:"average_buy_price"`
	SharesAvailableForSale string `json:"shares_available_for_sells"`
	UpdatedAt              string `json:"updated_at"`
}

// AccountProfile holds account-level balances and flags.
type AccountProfile struct {
	URL                        string `json:"url"`
	AccountNumber              string `json:"account_number"`
	Type                       string `json:"type"`
	BuyingPower                string `json:"buying_power"`
	Cash                       string `json:"cash"`
	CashHeldForOrders          string `json:"cash_held_for_orders"`
	UnclearedDeposits          string `json:"uncleared_deposits"`
	Deactivated                bool   `json:"deactivated"`
	OnlyPositionClosing        bool   `json:"only_position_closing_trades"`
	WithdrawalHalted           bool   `json:"withdrawal_halted"`
	MaxACHEarlyAccess          string `json:"max_ach_early_access_amount"`
	CashAvailableForWithdrawal string `json:"cash_available_for_withdrawal"`
}

// Dividend is one dividend record.
type Dividend struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	InstrumentURL string `json:"instrument"`
	Amount        string `json:"amount"`
	Rate          string `json:"rate"`
	Position      string `json:"position"`
	State         string `json:"state"`
	PayableDate   string `json:"payable_date"`
	PaidAt        string `json:"paid_at"`
}

// GetAllPositions returns every position ever held, following pagination to
// the end.
func (c *Client) GetAllPositions(ctx context.Context) ([]Position, error) {
	return collectPages[Position](ctx, c, &types.Request{Method: "GET", URL: endpointPositions})
}

// GetOpenStockPositions returns only positions with a nonzero quantity.
func (c *Client) GetOpenStockPositions(ctx context.Context) ([]Position, error) {
	return collectPages[Position](ctx, c, &types.Request{
		Method: "GET",
		URL:    endpointPositions,
		Query:  map[string]string{"nonzero": "true"},
	})
}

// GetDividends returns the account's dividend history.
func (c *Client) GetDividends(ctx context.Context) ([]Dividend, error) {
	return collectPages[Dividend](ctx, c, &types.Request{Method: "GET", URL: endpointDividends})
}

// LoadAccountProfile returns the primary trading account.
func (c *Client) LoadAccountProfile(ctx context.Context) (*AccountProfile, error) {
	env, err := c.Call(ctx, &types.Request{Method: "GET", URL: endpointAccounts})
	if err != nil {
		return nil, err
	}
	accounts, err := types.DecodeResults[AccountProfile](env)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, errors.New("robinhood: no trading account on this login")
	}
	return &accounts[0], nil
}

// collectPages drives the pager to exhaustion and decodes every result.
func collectPages[T any](ctx context.Context, c *Client, req *types.Request) ([]T, error) {
	pager := c.Pages(req)
	var out []T
	for {
		env, ok, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		items, err := types.DecodeResults[T](env)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
}
