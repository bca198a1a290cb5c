/**
 * @description
 * This package provides a client for the external payment gateway. It
 * encapsulates creating payment orders over the gateway's HTTP API and
 * verifying completion signatures on gateway callbacks.
 *
 * Signature verification is fail-closed: the expected signature is recomputed
 * as HMAC-SHA256 over "<orderID>|<paymentID>" with the shared key secret and
 * compared in constant time. A mismatch never mutates billing state.
 *
 * @dependencies
 * - bytes, context, crypto/hmac, crypto/sha256, encoding/json, net/http: Standard Go libraries.
 */
package paygate

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

var (
	// ErrSignatureMismatch is returned when a callback signature does not match
	// the recomputed HMAC. Callers must not apply the payment.
	ErrSignatureMismatch = errors.New("gateway signature mismatch")

	// ErrGatewayUnavailable wraps transport-level failures. Transient and
	// retryable by the caller; the billing engine never retries internally.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Currency   string
	HTTPClient *http.Client
}

// NewClient creates a new payment gateway client.
func NewClient(baseURL, keyID, keySecret, currency string) *Client {
	if currency == "" {
		currency = "INR"
	}
	return &Client{
		BaseURL:   baseURL,
		KeyID:     keyID,
		KeySecret: keySecret,
		Currency:  currency,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateOrderRequest is the payload for the gateway's order endpoint.
type CreateOrderRequest struct {
	Amount   int64  `json:"amount"` // in paise
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// OrderResponse is the gateway's order descriptor.
type OrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// ErrorResponse represents an error returned by the gateway API.
type ErrorResponse struct {
	ErrorBody struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
	StatusCode int `json:"-"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorBody.Code != "" {
		return fmt.Sprintf("gateway api error: %s - %s", e.ErrorBody.Code, e.ErrorBody.Description)
	}
	return "unknown gateway api error"
}

// CreateOrder registers a payment order with the gateway and returns its
// descriptor. The receipt ties the gateway order back to our bill number.
func (c *Client) CreateOrder(ctx context.Context, receipt string, amount int64) (*OrderResponse, error) {
	payload := CreateOrderRequest{
		Amount:   amount,
		Currency: c.Currency,
		Receipt:  receipt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/orders", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.KeyID, c.KeySecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading order response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			log.Printf("level=warn component=paygate op=create_order status=%d msg=\"gateway server error\"", resp.StatusCode)
			return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
		}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=paygate op=create_order status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		errResp.StatusCode = resp.StatusCode
		log.Printf("level=warn component=paygate op=create_order status=%d code=%q detail=%q", resp.StatusCode, errResp.ErrorBody.Code, errResp.ErrorBody.Description)
		return nil, &errResp
	}

	var order OrderResponse
	if err := json.Unmarshal(bodyBytes, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &order, nil
}

// Signature computes the expected completion signature for an order/payment pair.
func (c *Client) Signature(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(c.KeySecret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a gateway completion signature. Comparison is
// constant-time; a mismatch returns ErrSignatureMismatch and the caller must
// treat the payment as unverified.
func (c *Client) VerifySignature(orderID, paymentID, signature string) error {
	expected := c.Signature(orderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}
