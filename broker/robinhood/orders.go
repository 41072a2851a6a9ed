package robinhood

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/tradehound/gobroker/broker/types"
)

// Order is one order record.
type Order struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	AccountURL    string `json:"account"`
	InstrumentURL string `json:"instrument"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	Trigger       string `json:"trigger"`
	Price         string `json:"price"`
	StopPrice     string `json:"stop_price"`
	Quantity      string `json:"quantity"`
	State         string `json:"state"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	CancelURL     string `json:"cancel"`
}

// OrderRequest describes an equity order to place.
type OrderRequest struct {
	Symbol      string
	Side        string // "buy" or "sell"
	Type        string // "market" or "limit"
	TimeInForce string // "gfd", "gtc"
	Quantity    decimal.Decimal
	Price       decimal.Decimal // limit price; for market orders the quote price is used
}

// RoundPrice rounds to the decimal places the order endpoint accepts:
// 6 places at or under a cent, 4 under a dollar, 2 otherwise.
func RoundPrice(price decimal.Decimal) decimal.Decimal {
	switch {
	case price.LessThanOrEqual(decimal.NewFromFloat(0.01)):
		return price.Round(6)
	case price.LessThan(decimal.NewFromInt(1)):
		return price.Round(4)
	default:
		return price.Round(2)
	}
}

// PlaceOrder submits an equity order. Market orders are priced off the
// current quote (the endpoint demands a collar price even for market
// orders).
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Side != "buy" && req.Side != "sell" {
		return nil, errors.Errorf("robinhood: invalid order side %q", req.Side)
	}
	if req.TimeInForce == "" {
		req.TimeInForce = "gtc"
	}
	if req.Type == "" {
		req.Type = "market"
	}

	inst, err := c.GetInstrumentBySymbol(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	account, err := c.LoadAccountProfile(ctx)
	if err != nil {
		return nil, err
	}

	price := req.Price
	if price.IsZero() {
		quotes, err := c.GetQuotes(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		if len(quotes) == 0 {
			return nil, errors.Errorf("robinhood: no quote for %q", req.Symbol)
		}
		price, err = decimal.NewFromString(quotes[0].LastTradePrice)
		if err != nil {
			return nil, errors.Wrap(err, "robinhood: parse quote price")
		}
	}

	payload := map[string]any{
		"account":       account.URL,
		"instrument":    inst.URL,
		"symbol":        inst.Symbol,
		"side":          req.Side,
		"type":          req.Type,
		"time_in_force": req.TimeInForce,
		"trigger":       "immediate",
		"quantity":      req.Quantity.String(),
		"price":         RoundPrice(price).String(),
	}

	env, err := c.Call(ctx, &types.Request{Method: "POST", URL: endpointOrders, Body: payload})
	if err != nil {
		return nil, err
	}
	var order Order
	if err := env.Decode(&order); err != nil {
		return nil, errors.Wrap(err, "robinhood: decode order")
	}
	return &order, nil
}

// OrderBuyMarket buys quantity shares at market.
func (c *Client) OrderBuyMarket(ctx context.Context, symbol string, quantity decimal.Decimal) (*Order, error) {
	return c.PlaceOrder(ctx, OrderRequest{Symbol: symbol, Side: "buy", Type: "market", Quantity: quantity})
}

// OrderSellMarket sells quantity shares at market.
func (c *Client) OrderSellMarket(ctx context.Context, symbol string, quantity decimal.Decimal) (*Order, error) {
	return c.PlaceOrder(ctx, OrderRequest{Symbol: symbol, Side: "sell", Type: "market", Quantity: quantity})
}

// OrderBuyLimit buys quantity shares at or under limitPrice.
func (c *Client) OrderBuyLimit(ctx context.Context, symbol string, quantity, limitPrice decimal.Decimal) (*Order, error) {
	return c.PlaceOrder(ctx, OrderRequest{Symbol: symbol, Side: "buy", Type: "limit", Quantity: quantity, Price: limitPrice})
}

// OrderSellLimit sells quantity shares at or above limitPrice.
func (c *Client) OrderSellLimit(ctx context.Context, symbol string, quantity, limitPrice decimal.Decimal) (*Order, error) {
	return c.PlaceOrder(ctx, OrderRequest{Symbol: symbol, Side: "sell", Type: "limit", Quantity: quantity, Price: limitPrice})
}

// GetAllStockOrders returns the full order history.
func (c *Client) GetAllStockOrders(ctx context.Context) ([]Order, error) {
	return collectPages[Order](ctx, c, &types.Request{Method: "GET", URL: endpointOrders})
}

// GetStockOrderInfo returns one order by id.
func (c *Client) GetStockOrderInfo(ctx context.Context, orderID string) (*Order, error) {
	env, err := c.Call(ctx, &types.Request{Method: "GET", URL: endpointOrder(orderID)})
	if err != nil {
		return nil, err
	}
	var order Order
	if err := env.Decode(&order); err != nil {
		return nil, errors.Wrap(err, "robinhood: decode order")
	}
	return &order, nil
}

// CancelStockOrder cancels an open order by id.
func (c *Client) CancelStockOrder(ctx context.Context, orderID string) error {
	_, err := c.Call(ctx, &types.Request{Method: "POST", URL: endpointCancelOrder(orderID)})
	return err
}
