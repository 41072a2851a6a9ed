package robinhood

import (
	"context"

	"github.com/tradehound/gobroker/broker/types"
)

// Market describes one exchange venue.
type Market struct {
	URL          string `json:"url"`
	MIC          string `json:"mic"`
	OperatingMIC string `json:"operating_mic"`
	Acronym      string `json:"acronym"`
	Name         string `json:"name"`
	City         string `json:"city"`
	Country      string `json:"country"`
	Timezone     string `json:"timezone"`
	TodaysHours  string `json:"todays_hours"`
	Website      string `json:"website"`
}

// GetMarkets lists the known exchange venues.
func (c *Client) GetMarkets(ctx context.Context) ([]Market, error) {
	return collectPages[Market](ctx, c, &types.Request{Method: "GET", URL: endpointMarkets})
}

// GetTop100 returns quotes for the hundred most popular securities,
// following pagination to the end.
func (c *Client) GetTop100(ctx context.Context) ([]Quote, error) {
	return collectPages[Quote](ctx, c, &types.Request{Method: "GET", URL: endpointTop100})
}
