package models

import (
	"time"
)

// TransType identifies what a purchase buys
type TransType string

const (
	TransTypeAirtimeTopup       TransType = "AIRTIMETOPUP"
	TransTypeDataBundleList     TransType = "DATABUNDLELIST"
	TransTypeGlobalAirtimeTopup TransType = "GLOBALAIRTOPUP"
	TransTypeMomo               TransType = "MOMO"
	TransTypeInternationalData  TransType = "INTERNATIONALDATA"
)

// Valid reports whether t is one of the known purchase types
func (t TransType) Valid() bool {
	switch t {
	case TransTypeAirtimeTopup, TransTypeDataBundleList, TransTypeGlobalAirtimeTopup,
		TransTypeMomo, TransTypeInternationalData:
		return true
	}
	return false
}

// TransactionStatus is the closed set of payment states reported by the gateway
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"

	// StatusExpired only appears in the history, for records discarded as stale
	StatusExpired TransactionStatus = "EXPIRED"
)

// Terminal reports whether no further gateway state change is expected
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PendingTransaction is the single in-flight purchase persisted per device
type PendingTransaction struct {
	DeviceID         string            `json:"deviceId"`
	TransType        TransType         `json:"transType"`
	RecipientNumber  string            `json:"recipientNumber"`
	Amount           float64           `json:"amount"`
	Currency         string            `json:"currency"`
	Description      string            `json:"description"`
	PayTransRef      string            `json:"payTransRef"`
	TransactionToken string            `json:"transactionToken"`
	OrderID          string            `json:"orderId"`
	CheckoutURL      string            `json:"checkoutUrl,omitempty"`
	Status           TransactionStatus `json:"status"`
	Diagnostic       string            `json:"diagnostic,omitempty"`
	UserID           string            `json:"userId,omitempty"`
	FirstName        string            `json:"firstName,omitempty"`
	LastName         string            `json:"lastName,omitempty"`
	Email            string            `json:"email,omitempty"`
	PhoneNumber      string            `json:"phoneNumber,omitempty"`
	Timestamp        string            `json:"timestamp"` // RFC3339
}

// CreatedAt parses Timestamp; a record with an unparseable timestamp reports ok=false
func (p *PendingTransaction) CreatedAt() (time.Time, bool) {
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// IsStale reports whether the record is older than maxAge at now.
// Records without a readable timestamp count as stale.
func (p *PendingTransaction) IsStale(now time.Time, maxAge time.Duration) bool {
	created, ok := p.CreatedAt()
	if !ok {
		return true
	}
	return now.Sub(created) > maxAge
}

// Matches reports whether a token/orderId pair identifies this record.
// Either value may be empty, but not both.
func (p *PendingTransaction) Matches(token, orderID string) bool {
	if token == "" && orderID == "" {
		return false
	}
	if token != "" && token != p.TransactionToken {
		return false
	}
	if orderID != "" && p.OrderID != "" && orderID != p.OrderID {
		return false
	}
	return true
}

// TransactionStatusResult is what a deep link or status query says about a payment
type TransactionStatusResult struct {
	Status        TransactionStatus `json:"status"`
	ResultText    string            `json:"resultText,omitempty"`
	Message       string            `json:"message,omitempty"`
	Error         string            `json:"error,omitempty"`
	OrderID       string            `json:"orderId,omitempty"`
	Token         string            `json:"token,omitempty"`
	Amount        float64           `json:"amount,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	TransactionID string            `json:"transactionId,omitempty"`
	HTTPStatus    int               `json:"httpStatus,omitempty"`
}

// QueryFailedSentinel marks a gateway-side lookup failure that must be retried
const QueryFailedSentinel = "QUERY_FAILED"

// Diagnostic returns the most useful human-readable text of the result
func (r *TransactionStatusResult) Diagnostic() string {
	switch {
	case r.ResultText != "":
		return r.ResultText
	case r.Message != "":
		return r.Message
	default:
		return r.Error
	}
}

// OutcomeKind is the downstream side effect chosen by the reconciler
type OutcomeKind string

const (
	OutcomeReceipt OutcomeKind = "RECEIPT"
	OutcomeError   OutcomeKind = "ERROR"
	OutcomeWaiting OutcomeKind = "WAITING"
	OutcomeExpired OutcomeKind = "EXPIRED"
)

// Destinations the app navigates to
const (
	DestinationReceipt = "/checkout/receipt"
	DestinationHome    = "/home"
	DestinationWaiting = "/checkout/waiting"
)

// Outcome is delivered to the app in place of a toast plus navigation
type Outcome struct {
	ID          string                   `json:"id"`
	Kind        OutcomeKind              `json:"kind"`
	Destination string                   `json:"destination"`
	Message     string                   `json:"message,omitempty"`
	Token       string                   `json:"token,omitempty"`
	PayTransRef string                   `json:"payTransRef,omitempty"`
	Result      *TransactionStatusResult `json:"result,omitempty"`
	CreatedAt   time.Time                `json:"createdAt"`
}

// Preferences are the per-device settings kept next to the pending record
type Preferences struct {
	Country   string `json:"userCountry"`
	ThemeMode string `json:"themeMode"`
}
