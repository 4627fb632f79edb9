package deeplink

import (
	"errors"
	"testing"

	"github.com/lidapay/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCleanURL(t *testing.T) {
	link, err := Parse("lidapay://redirect-url?token=abc123&order-id=ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", link.Token)
	assert.Equal(t, "ORD-1", link.OrderID)
	assert.Equal(t, SourceExact, link.TokenSource)
	assert.Equal(t, SourceAlias, link.OrderIDSource)
}

func TestParseInjectedWhitespace(t *testing.T) {
	cases := []string{
		"lidapay://redirect-url?token%0A=%0Aabc123%20&%20order-id%20=%20ORD-1",
		"lidapay://redirect-url?token=abc123&order-id=ORD-1%0A",
		"lidapay://redirect-url ? token = abc123 & order-id = ORD-1",
		"lidapay://redirect-url?\r\ntoken=abc\t123&order-id=\nORD-1",
		"lidapay://redirect-url?token=abc%250A123&order-id=ORD-1",
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			link, err := Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, "abc123", link.Token)
			assert.Equal(t, "ORD-1", link.OrderID)
		})
	}
}

func TestParseAliases(t *testing.T) {
	cases := map[string]string{
		"lidapay://redirect-url?tok=abc123&orderId=ORD-1":          SourceAlias,
		"lidapay://redirect-url?paymentToken=abc123&order_id=ORD-1": SourceAlias,
		"lidapay://redirect-url?TOKEN=abc123&ORDERID=ORD-1":         SourceAlias,
	}
	for raw, source := range cases {
		link, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "abc123", link.Token, raw)
		assert.Equal(t, "ORD-1", link.OrderID, raw)
		assert.Equal(t, source, link.TokenSource, raw)
	}
}

func TestParsePlusBecomesSpace(t *testing.T) {
	link, err := Parse("lidapay://redirect-url?token=abc123&order-id=ORD-1&errorMessage=Insufficient+funds")
	require.NoError(t, err)
	assert.Equal(t, "Insufficient funds", link.ErrorMessage)
}

func TestParseLastResort(t *testing.T) {
	// a literal '%' that is not an escape makes decoding fail, so the raw string is scanned
	link, err := Parse("lidapay://redirect-url#token%3Dabc123;order_id%3DORD-1;discount=100%")
	require.NoError(t, err)
	assert.Equal(t, "abc123", link.Token)
	assert.Equal(t, "ORD-1", link.OrderID)
	assert.Equal(t, SourceLastResort, link.TokenSource)
	assert.Equal(t, SourceLastResort, link.OrderIDSource)
}

func TestParseStatus(t *testing.T) {
	link, err := Parse("lidapay://redirect-url?token=abc123&order-id=ORD-1&status=FAILED")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", link.Status)
}

func TestParseMissingParameters(t *testing.T) {
	cases := map[string][]string{
		"lidapay://redirect-url?order-id=ORD-1": {"token"},
		"lidapay://redirect-url?token=abc123":   {"orderId"},
		"lidapay://redirect-url":                {"token", "orderId"},
		"":                                      {"token", "orderId"},
		"%%%":                                   {"token", "orderId"},
	}
	for raw, missing := range cases {
		_, err := Parse(raw)
		var malformed *models.MalformedDeepLinkError
		require.True(t, errors.As(err, &malformed), raw)
		assert.Equal(t, missing, malformed.Missing, raw)
		assert.Equal(t, models.MsgMalformedDeepLink, models.UserMessage(err))
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a?b=c&d=e", Sanitize("  a ?\n b = c  &\td =  e "))
	assert.Equal(t, "x y", Sanitize("x    y"))
}

func TestDecodeFallsBackToRaw(t *testing.T) {
	assert.Equal(t, "a b", Decode("a%20b"))
	assert.Equal(t, "100%", Decode("100%"))
}

func TestExactIsCaseSensitive(t *testing.T) {
	_, ok := Exact("x?TOKEN=abc", TokenParam)
	assert.False(t, ok)

	v, ok := Alias("x?TOKEN=abc", TokenParam)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
}
