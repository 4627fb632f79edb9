// Package deeplink recovers the payment token and order id from the URL the
// gateway's browser redirect hands back to the app.
//
// Redirect URLs seen in production carry injected whitespace and newlines,
// double encoding and inconsistent parameter names, so parsing never relies on
// strict URL parsing. Each parameter is resolved by an ordered list of
// strategies and the first one that yields a value wins:
//
//  1. exact: the canonical name, case-sensitive, scanned from the sanitized string
//  2. aliases: every accepted name, case-insensitive, scanned from the sanitized string
//  3. last resort: one loose pattern applied to the original, undecoded URL
package deeplink

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/lidapay/backend/internal/models"
)

// Link is what a redirect URL told us
type Link struct {
	Token         string
	OrderID       string
	Status        string
	ErrorMessage  string
	Sanitized     string
	TokenSource   string
	OrderIDSource string
}

// Strategy names, reported on Link for diagnostics
const (
	SourceExact      = "exact"
	SourceAlias      = "alias"
	SourceLastResort = "last_resort"
)

// Param describes how one query parameter is located
type Param struct {
	Names      []string // Names[0] is canonical
	LastResort *regexp.Regexp
}

var (
	TokenParam = Param{
		Names:      []string{"token", "tok", "paymentToken"},
		LastResort: regexp.MustCompile(`(?i)tok(?:en)?\s*(?:=|%3D)\s*([A-Za-z0-9._~\-]+)`),
	}
	OrderIDParam = Param{
		Names:      []string{"orderId", "order-id", "order_id", "orderid"},
		LastResort: regexp.MustCompile(`(?i)order[\-_]?id\s*(?:=|%3D)\s*([A-Za-z0-9._~\-]+)`),
	}
	statusParam       = Param{Names: []string{"status"}}
	errorMessageParam = Param{Names: []string{"errorMessage", "error_message", "error"}}
)

var (
	controlChars    = regexp.MustCompile(`[\r\n\t]`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
	spaceAroundSeps = regexp.MustCompile(`\s*([?&=])\s*`)
)

// Decode URL-decodes raw. On a decode failure it returns raw unchanged.
func Decode(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Sanitize strips CR/LF/TAB, collapses whitespace runs and removes whitespace next to ?, & and =
func Sanitize(s string) string {
	s = controlChars.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	s = spaceAroundSeps.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// scan returns the value of the first query-string occurrence of name
func scan(s, name string, caseInsensitive bool) (string, bool) {
	flags := ""
	if caseInsensitive {
		flags = "(?i)"
	}
	re := regexp.MustCompile(flags + `(?:^|[?&#;])` + regexp.QuoteMeta(name) + `=([^&#]*)`)
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	value := cleanValue(m[1])
	return value, value != ""
}

// cleanValue decodes a candidate once more, drops control characters left by
// double encoding and turns literal '+' into a space
func cleanValue(v string) string {
	v = controlChars.ReplaceAllString(Decode(v), "")
	v = strings.ReplaceAll(v, "+", " ")
	return strings.TrimSpace(v)
}

// Exact looks for the canonical name only, case-sensitively
func Exact(sanitized string, p Param) (string, bool) {
	if len(p.Names) == 0 {
		return "", false
	}
	return scan(sanitized, p.Names[0], false)
}

// Alias tries every accepted name case-insensitively
func Alias(sanitized string, p Param) (string, bool) {
	for _, name := range p.Names {
		if v, ok := scan(sanitized, name, true); ok {
			return v, true
		}
	}
	return "", false
}

// LastResort applies the loose pattern to the original URL
func LastResort(original string, p Param) (string, bool) {
	if p.LastResort == nil {
		return "", false
	}
	m := p.LastResort.FindStringSubmatch(original)
	if m == nil {
		return "", false
	}
	value := cleanValue(m[1])
	return value, value != ""
}

// extract runs the sanitized-string strategies; the last resort is applied by Parse
func extract(sanitized string, p Param) (string, string) {
	if v, ok := Exact(sanitized, p); ok {
		return v, SourceExact
	}
	if v, ok := Alias(sanitized, p); ok {
		return v, SourceAlias
	}
	return "", ""
}

// Parse recovers token and order id from a raw redirect URL. It never panics on
// malformed input; when either value cannot be found it returns a MalformedDeepLinkError.
func Parse(raw string) (*Link, error) {
	sanitized := Sanitize(Decode(raw))
	link := &Link{Sanitized: sanitized}

	link.Token, link.TokenSource = extract(sanitized, TokenParam)
	link.OrderID, link.OrderIDSource = extract(sanitized, OrderIDParam)

	if link.Token == "" {
		if v, ok := LastResort(raw, TokenParam); ok {
			link.Token, link.TokenSource = v, SourceLastResort
		}
	}
	if link.OrderID == "" {
		if v, ok := LastResort(raw, OrderIDParam); ok {
			link.OrderID, link.OrderIDSource = v, SourceLastResort
		}
	}

	link.Status, _ = extract(sanitized, statusParam)
	link.ErrorMessage, _ = extract(sanitized, errorMessageParam)

	var missing []string
	if link.Token == "" {
		missing = append(missing, "token")
	}
	if link.OrderID == "" {
		missing = append(missing, "orderId")
	}
	if len(missing) > 0 {
		return link, &models.MalformedDeepLinkError{URL: raw, Missing: missing}
	}
	return link, nil
}
