package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelopePaginated(t *testing.T) {
	body := []byte(`{"results":[{"symbol":"AAPL"},{"symbol":"MSFT"}],"next":"https://x/items?page=2"}`)
	env := ParseEnvelope(body)

	require.Len(t, env.Results, 2)
	assert.True(t, env.HasNext())
	assert.Equal(t, "https://x/items?page=2", env.Next)

	type row struct {
		Symbol string `json:"symbol"`
	}
	rows, err := DecodeResults[row](env)
	require.NoError(t, err)
	assert.Equal(t, []row{{Symbol: "AAPL"}, {Symbol: "MSFT"}}, rows)
}

func TestParseEnvelopeLastPage(t *testing.T) {
	env := ParseEnvelope([]byte(`{"results":[],"next":null}`))
	assert.Empty(t, env.Results)
	assert.False(t, env.HasNext())
}

func TestParseEnvelopeNonPaginatedBody(t *testing.T) {
	env := ParseEnvelope([]byte(`{"account_number":"5AB12345","buying_power":"100.00"}`))
	assert.Empty(t, env.Results)
	assert.False(t, env.HasNext())

	var out struct {
		AccountNumber string `json:"account_number"`
	}
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, "5AB12345", out.AccountNumber)
}

func TestParseEnvelopeBareArray(t *testing.T) {
	env := ParseEnvelope([]byte(`["btcusd","ethusd"]`))
	assert.Empty(t, env.Results)

	var symbols []string
	require.NoError(t, env.Decode(&symbols))
	assert.Equal(t, []string{"btcusd", "ethusd"}, symbols)
}

func TestDecodeResultsTypeMismatch(t *testing.T) {
	env := ParseEnvelope([]byte(`{"results":[{"n":"not a number"}]}`))
	_, err := DecodeResults[struct {
		N int `json:"n"`
	}](env)
	require.Error(t, err)
}
