package robinhood

// API endpoint constants
const (
	apiBase = "https://api.robinhood.com"

	// Auth
	endpointLogin  = "/oauth2/token/"
	endpointRevoke = "/oauth2/revoke_token/"

	// Stocks / market data
	endpointQuotes       = "/quotes/"
	endpointInstruments  = "/instruments/"
	endpointFundamentals = "/fundamentals/"

	// Account
	endpointPositions = "/positions/"
	endpointAccounts  = "/accounts/"
	endpointDividends = "/dividends/"

	// Orders
	endpointOrders = "/orders/"

	// Markets
	endpointMarkets = "/markets/"
	endpointTop100  = "/midlands/tags/tag/100-most-popular/"
)

func endpointChallenge(id string) string {
	return "/challenge/" + id + "/respond/"
}

func endpointOrder(orderID string) string {
	return endpointOrders + orderID + "/"
}

func endpointCancelOrder(orderID string) string {
	return endpointOrders + orderID + "/cancel/"
}

// challengeHeader carries the validated challenge id on the login retry.
const challengeHeader = "X-ROBINHOOD-CHALLENGE-RESPONSE-ID"
