package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/ticketing-admission/internal/model"
)

// PaymentChecker reports whether an order was paid.  The order sweep asks
// it once per expired order.
type PaymentChecker interface {
	IsPaid(ctx context.Context, order model.Order) (bool, error)
}

// HTTPPaymentChecker asks the payment service over HTTP:
// GET {baseURL}/orders/{id} answering {"paid": bool}.
type HTTPPaymentChecker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPaymentChecker returns a checker with the given request timeout.
func NewHTTPPaymentChecker(baseURL string, timeout time.Duration) *HTTPPaymentChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPaymentChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type paymentStatus struct {
	Paid *bool `json:"paid"`
}

// IsPaid queries the payment service.  Any non-2xx answer, or a body
// without a "paid" field, is an error so that the order is retried on the
// next sweep instead of being cancelled.
func (p *HTTPPaymentChecker) IsPaid(ctx context.Context, order model.Order) (bool, error) {
	url := fmt.Sprintf("%s/orders/%d", p.baseURL, order.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("payment status %d: %w", order.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("payment status %d: unexpected status %d", order.ID, resp.StatusCode)
	}
	var st paymentStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return false, fmt.Errorf("payment status %d: decode: %w", order.ID, err)
	}
	if st.Paid == nil {
		return false, fmt.Errorf("payment status %d: response has no paid field", order.ID)
	}
	return *st.Paid, nil
}

// PaymentCheckerFunc adapts a function to PaymentChecker.
type PaymentCheckerFunc func(ctx context.Context, order model.Order) (bool, error)

// IsPaid calls f.
func (f PaymentCheckerFunc) IsPaid(ctx context.Context, order model.Order) (bool, error) {
	return f(ctx, order)
}
