package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/lidapay/backend/internal/metrics"
	"github.com/lidapay/backend/internal/models"
	"github.com/lidapay/backend/internal/utils"
)

const (
	opInitiate = "initiate"
	opQuery    = "query_status"
)

// Config holds the gateway endpoints and credentials
type Config struct {
	BaseURL      string
	InitiatePath string
	StatusPath   string
	APIKey       string
	Timeout      time.Duration
}

// Client talks to the ExpressPay/AdvansisPay payment API
type Client struct {
	http *resty.Client
	cfg  Config
}

// NewClient creates a gateway client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}

	return &Client{http: httpClient, cfg: cfg}
}

// InitiateRequest is the body of the initiate-payment call
type InitiateRequest struct {
	UserID      string  `json:"userId"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	Email       string  `json:"email"`
	PhoneNumber string  `json:"phoneNumber"`
	Amount      float64 `json:"amount"`
	OrderDesc   string  `json:"orderDesc"`
	OrderImgURL string  `json:"orderImgUrl"`
}

// Checkout is a validated initiate-payment response
type Checkout struct {
	CheckoutURL string `json:"checkoutUrl"`
	Token       string `json:"token"`
	OrderID     string `json:"orderId"`
}

type initiateResponse struct {
	Message string `json:"message"`
	Data    struct {
		CheckoutURL string `json:"checkoutUrl"`
		Token       string `json:"token"`
		OrderID     string `json:"order-id"`
	} `json:"data"`
}

// Initiate creates a payment at the gateway. The response must carry a checkout URL,
// a token and an order id, otherwise a GatewayError is returned.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*Checkout, error) {
	started := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.cfg.InitiatePath)
	if err != nil {
		metrics.ObserveGateway(opInitiate, "transport_error", started)
		return nil, &models.GatewayError{Op: opInitiate, Err: err}
	}
	if resp.StatusCode() >= 400 {
		metrics.ObserveGateway(opInitiate, "http_error", started)
		return nil, &models.GatewayError{
			Op:         opInitiate,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("%s", utils.TruncateString(string(resp.Body()), 200)),
		}
	}

	var body initiateResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		metrics.ObserveGateway(opInitiate, "decode_error", started)
		return nil, &models.GatewayError{Op: opInitiate, StatusCode: resp.StatusCode(), Err: fmt.Errorf("invalid response: %w", err)}
	}

	var missing []string
	if body.Data.CheckoutURL == "" {
		missing = append(missing, "checkoutUrl")
	}
	if body.Data.Token == "" {
		missing = append(missing, "token")
	}
	if body.Data.OrderID == "" {
		missing = append(missing, "order-id")
	}
	if len(missing) > 0 {
		metrics.ObserveGateway(opInitiate, "incomplete", started)
		return nil, &models.GatewayError{
			Op:         opInitiate,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("response missing %s", strings.Join(missing, ", ")),
		}
	}

	metrics.ObserveGateway(opInitiate, "ok", started)
	return &Checkout{
		CheckoutURL: body.Data.CheckoutURL,
		Token:       body.Data.Token,
		OrderID:     body.Data.OrderID,
	}, nil
}

// statusPayload accepts both the flat and the data-wrapped status response
type statusPayload struct {
	Status        string    `json:"status"`
	ResultText    string    `json:"resultText"`
	Message       string    `json:"message"`
	Error         string    `json:"error"`
	Amount        flexFloat `json:"amount"`
	Currency      string    `json:"currency"`
	TransactionID string    `json:"transactionId"`
	OrderID       string    `json:"order-id"`
	Token         string    `json:"token"`
}

type statusResponse struct {
	statusPayload
	Data *statusPayload `json:"data"`
}

// QueryStatus asks the gateway about token. Transport failures and undecodable 2xx bodies
// are GatewayErrors; HTTP error responses come back as a result with HTTPStatus set.
func (c *Client) QueryStatus(ctx context.Context, token string) (*models.TransactionStatusResult, error) {
	started := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"token": token}).
		Post(c.cfg.StatusPath)
	if err != nil {
		metrics.ObserveGateway(opQuery, "transport_error", started)
		return nil, &models.GatewayError{Op: opQuery, Err: err}
	}

	var body statusResponse
	decodeErr := json.Unmarshal(resp.Body(), &body)

	if resp.StatusCode() >= 400 {
		metrics.ObserveGateway(opQuery, "http_error", started)
		result := &models.TransactionStatusResult{Status: models.StatusFailed, Token: token, HTTPStatus: resp.StatusCode()}
		if decodeErr == nil {
			result = body.toResult(token)
			result.HTTPStatus = resp.StatusCode()
		} else {
			result.Error = utils.TruncateString(string(resp.Body()), 200)
		}
		return result, nil
	}

	if decodeErr != nil {
		metrics.ObserveGateway(opQuery, "decode_error", started)
		return nil, &models.GatewayError{Op: opQuery, StatusCode: resp.StatusCode(), Err: fmt.Errorf("invalid response: %w", decodeErr)}
	}

	metrics.ObserveGateway(opQuery, "ok", started)
	result := body.toResult(token)
	result.HTTPStatus = resp.StatusCode()
	return result, nil
}

func (r statusResponse) toResult(token string) *models.TransactionStatusResult {
	p := r.statusPayload
	if r.Data != nil && r.Data.Status != "" {
		p = *r.Data
		if p.ResultText == "" {
			p.ResultText = r.ResultText
		}
		if p.Message == "" {
			p.Message = r.Message
		}
		if p.Error == "" {
			p.Error = r.Error
		}
	}

	result := &models.TransactionStatusResult{
		Status:        ParseStatus(p.Status),
		ResultText:    p.ResultText,
		Message:       p.Message,
		Error:         p.Error,
		Amount:        float64(p.Amount),
		Currency:      p.Currency,
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID,
		Token:         p.Token,
	}
	if result.Token == "" {
		result.Token = token
	}
	return result
}

// ParseStatus maps gateway status spellings onto the closed status set.
// Anything unrecognised is PENDING so it keeps being polled.
func ParseStatus(s string) models.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETED", "SUCCESS", "SUCCESSFUL", "PAID", "APPROVED":
		return models.StatusCompleted
	case "FAILED", "FAILURE", "DECLINED", "CANCELLED", "CANCELED", "REJECTED", "ERROR":
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

// IsTransportError reports whether err is a GatewayError without an HTTP status
func IsTransportError(err error) bool {
	var gwErr *models.GatewayError
	return errors.As(err, &gwErr) && gwErr.StatusCode == 0
}

// flexFloat decodes amounts sent either as numbers or numeric strings
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
