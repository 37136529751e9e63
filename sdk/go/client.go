package giglinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Gigline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Mission represents the API mission model.
type Mission struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	RunnerID    *string `json:"runner_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Price       string  `json:"price"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Application represents an application to a mission.
type Application struct {
	ID          string `json:"id"`
	MissionID   string `json:"mission_id"`
	ApplicantID string `json:"applicant_id"`
	Message     string `json:"message,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Escrow represents a mission's fund-custody record.
type Escrow struct {
	MissionID     string  `json:"mission_id"`
	Amount        string  `json:"amount"`
	Status        string  `json:"status"`
	AutoReleaseAt *string `json:"auto_release_at,omitempty"`
}

// Review represents a review left for a mission party.
type Review struct {
	ID             string `json:"id"`
	MissionID      string `json:"mission_id"`
	ReviewerID     string `json:"reviewer_id"`
	ReviewedUserID string `json:"reviewed_user_id"`
	Rating         int    `json:"rating"`
	Comment        string `json:"comment,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// Profile represents a user's reputation aggregate.
type Profile struct {
	SubjectID      string `json:"subject_id"`
	RatingAvg      string `json:"rating_avg"`
	RatingCount    int    `json:"rating_count"`
	CompletedCount int    `json:"completed_count"`
	Earnings       string `json:"earnings"`
}

// VerifyResult is the outcome of a checkout verification.
type VerifyResult struct {
	Purchase         map[string]any `json:"purchase"`
	Boost            map[string]any `json:"boost,omitempty"`
	AlreadyProcessed bool           `json:"already_processed"`
}

// MissionFeed wraps the discovery feed with its data-source tag.
type MissionFeed struct {
	Missions []Mission `json:"missions"`
	Source   struct {
		Degraded bool   `json:"degraded"`
		Reason   string `json:"reason,omitempty"`
	} `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateMission posts a mission.
func (c *Client) CreateMission(ctx context.Context, title, description, price, currency string) (Mission, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"price":       price,
		"currency":    currency,
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "v1/missions", body, &resp)
	return resp, err
}

// GetMission fetches a mission by id.
func (c *Client) GetMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, "v1/missions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Discover returns the public mission feed.
func (c *Client) Discover(ctx context.Context) (MissionFeed, error) {
	var resp MissionFeed
	err := c.do(ctx, http.MethodGet, "v1/missions/discover", nil, &resp)
	return resp, err
}

// Apply registers an application on an open mission.
func (c *Client) Apply(ctx context.Context, missionID, message string) (Application, error) {
	body := map[string]any{"message": message}
	var resp Application
	err := c.do(ctx, http.MethodPost, "v1/missions/"+url.PathEscape(missionID)+"/applications", body, &resp)
	return resp, err
}

// Assign selects an applicant as runner.
func (c *Client) Assign(ctx context.Context, missionID, runnerID string) (Mission, error) {
	body := map[string]any{"runner_id": runnerID}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "v1/missions/"+url.PathEscape(missionID)+"/assign", body, &resp)
	return resp, err
}

// SubmitProof submits completion evidence.
func (c *Client) SubmitProof(ctx context.Context, missionID string, evidence []string, notes string) (Mission, error) {
	body := map[string]any{"evidence": evidence, "notes": notes}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "v1/missions/"+url.PathEscape(missionID)+"/proof", body, &resp)
	return resp, err
}

// Approve accepts submitted proof and releases escrow.
func (c *Client) Approve(ctx context.Context, missionID string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPost, "v1/missions/"+url.PathEscape(missionID)+"/approve", nil, &resp)
	return resp, err
}

// GetEscrow fetches a mission's escrow record.
func (c *Client) GetEscrow(ctx context.Context, missionID string) (Escrow, error) {
	var resp Escrow
	err := c.do(ctx, http.MethodGet, "v1/missions/"+url.PathEscape(missionID)+"/escrow", nil, &resp)
	return resp, err
}

// VerifyPayment verifies a checkout session. Safe to call repeatedly.
func (c *Client) VerifyPayment(ctx context.Context, sessionID string) (VerifyResult, error) {
	body := map[string]any{"session_id": sessionID}
	var resp VerifyResult
	err := c.do(ctx, http.MethodPost, "v1/payments/verify", body, &resp)
	return resp, err
}

// CreateReview reviews the other party of a completed mission.
func (c *Client) CreateReview(ctx context.Context, missionID string, rating int, comment string) (Review, error) {
	body := map[string]any{
		"mission_id": missionID,
		"rating":     rating,
		"comment":    comment,
	}
	var resp Review
	err := c.do(ctx, http.MethodPost, "v1/reviews", body, &resp)
	return resp, err
}

// GetProfile fetches a user's reputation aggregate.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "v1/users/"+url.PathEscape(userID)+"/profile", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
