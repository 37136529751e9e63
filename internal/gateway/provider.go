package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Session is the processor's authoritative view of a checkout session.
type Session struct {
	ID              string            `json:"id"`
	PaymentStatus   string            `json:"payment_status"`
	PaymentIntentID string            `json:"payment_intent"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
	CustomerEmail   string            `json:"customer_email"`
}

// Provider retrieves checkout sessions from the external payment
// processor. The bridge trusts nothing the client sends; the session
// fetched here is the only source of payment truth.
type Provider interface {
	RetrieveSession(ctx context.Context, sessionRef string) (Session, error)
}

// HTTPProvider talks to a Stripe-shaped checkout API.
type HTTPProvider struct {
	BaseURL   string
	SecretKey string
	Client    *http.Client
}

func NewHTTPProvider(baseURL, secretKey string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		Client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvider) RetrieveSession(ctx context.Context, sessionRef string) (Session, error) {
	endpoint := fmt.Sprintf("%s/v1/checkout/sessions/%s", p.BaseURL, url.PathEscape(sessionRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.SecretKey)
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("retrieve session %s: %w", sessionRef, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("retrieve session %s: processor returned %d", sessionRef, resp.StatusCode)
	}
	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", sessionRef, err)
	}
	return s, nil
}
