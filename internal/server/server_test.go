package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/gateway"
	"gigline/internal/migrate"
)

type fakeProvider struct {
	sessions map[string]gateway.Session
}

func (f fakeProvider) RetrieveSession(_ context.Context, ref string) (gateway.Session, error) {
	s, ok := f.sessions[ref]
	if !ok {
		return gateway.Session{}, fmt.Errorf("no such session %q", ref)
	}
	return s, nil
}

type testServer struct {
	BaseURL string
	Engine  engine.Engine
	Client  *http.Client
	// Clock backs every Now closure handed to the engine and bridge;
	// tests advance time by reassigning it.
	Clock *time.Time
}

const testJWTSecret = "test-secret"

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return clock }
	if err := e.SeedBadges(context.Background()); err != nil {
		t.Fatalf("seed badges: %v", err)
	}
	bridge := gateway.NewBridge(conn, cfg, fakeProvider{sessions: map[string]gateway.Session{
		"cs_test_1": {
			ID:              "cs_test_1",
			PaymentStatus:   "paid",
			PaymentIntentID: "pi_test_1",
			AmountTotal:     499,
			Currency:        "usd",
			Metadata:        map[string]string{"product_id": "boost.24h"},
		},
	}})
	bridge.Now = e.Now

	handler, err := New(Config{
		Engine: e,
		Bridge: bridge,
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return &testServer{
		BaseURL: "http://" + ln.Addr().String() + "/v1",
		Engine:  e,
		Client:  &http.Client{Timeout: 5 * time.Second},
		Clock:   &clock,
	}
}

// doJSON sends a request as the given actor using the legacy headers and
// decodes the response body into out when out is non-nil.
func (s *testServer) doJSON(t *testing.T, method, path string, actor, role string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-Actor-Id", actor)
		req.Header.Set("X-Actor-Role", role)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode
}

func TestHTTPMissionLifecycle(t *testing.T) {
	s := newTestServer(t)

	var m domain.Mission
	code := s.doJSON(t, http.MethodPost, "/missions", "owner-1", "employer", CreateMissionRequest{
		Title: "Walk my dog",
		Price: "25.00",
	}, &m)
	if code != http.StatusOK {
		t.Fatalf("create: status %d", code)
	}
	if m.Status != domain.MissionOpen {
		t.Fatalf("status = %s, want open", m.Status)
	}

	if code := s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/applications", "runner-1", "worker", ApplyRequest{Message: "on it"}, nil); code != http.StatusOK {
		t.Fatalf("apply: status %d", code)
	}
	if code := s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/assign", "owner-1", "employer", AssignRequest{RunnerID: "runner-1"}, &m); code != http.StatusOK {
		t.Fatalf("assign: status %d", code)
	}
	if m.Status != domain.MissionAssigned {
		t.Fatalf("status = %s, want assigned", m.Status)
	}

	if code := s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/proof", "runner-1", "worker", SubmitProofRequest{
		Evidence: []string{"https://example.com/photo.jpg"},
	}, &m); code != http.StatusOK {
		t.Fatalf("proof: status %d", code)
	}
	if code := s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/approve", "owner-1", "employer", nil, &m); code != http.StatusOK {
		t.Fatalf("approve: status %d", code)
	}
	if m.Status != domain.MissionCompleted {
		t.Fatalf("status = %s, want completed", m.Status)
	}

	var esc domain.EscrowRecord
	if code := s.doJSON(t, http.MethodGet, "/missions/"+m.ID+"/escrow", "owner-1", "employer", nil, &esc); code != http.StatusOK {
		t.Fatalf("escrow: status %d", code)
	}
	if esc.Status != domain.EscrowReleased {
		t.Fatalf("escrow = %s, want released", esc.Status)
	}

	var rv domain.Review
	if code := s.doJSON(t, http.MethodPost, "/reviews", "owner-1", "employer", CreateReviewRequest{
		MissionID: m.ID,
		Rating:    5,
		Comment:   "great work",
	}, &rv); code != http.StatusOK {
		t.Fatalf("review: status %d", code)
	}
	if rv.ReviewedUserID != "runner-1" {
		t.Fatalf("reviewed = %s, want runner-1", rv.ReviewedUserID)
	}

	var profile domain.Profile
	if code := s.doJSON(t, http.MethodGet, "/users/runner-1/profile", "owner-1", "employer", nil, &profile); code != http.StatusOK {
		t.Fatalf("profile: status %d", code)
	}
	if profile.Earnings != "25" || profile.RatingAvg != "5" || profile.CompletedCount != 1 {
		t.Fatalf("profile = %+v", profile)
	}

	var achievements []domain.Achievement
	if code := s.doJSON(t, http.MethodGet, "/users/runner-1/achievements", "runner-1", "worker", nil, &achievements); code != http.StatusOK {
		t.Fatalf("achievements: status %d", code)
	}
	if len(achievements) == 0 {
		t.Fatalf("no achievements unlocked")
	}
}

func TestHTTPRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	code := s.doJSON(t, http.MethodGet, "/missions", "", "", nil, &envelope)
	if code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q, want unauthorized", envelope.Error.Code)
	}
}

func TestHTTPDiscoverIsOpen(t *testing.T) {
	s := newTestServer(t)
	var body missionListBody
	code := s.doJSON(t, http.MethodGet, "/missions/discover", "", "", nil, &body)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body.Source.Degraded {
		t.Fatalf("healthy store reported degraded: %+v", body.Source)
	}
}

func TestHTTPJWTAuth(t *testing.T) {
	s := newTestServer(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "owner-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "employer",
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, s.BaseURL+"/missions", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := s.Client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// A token signed with the wrong key is rejected.
	bad, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "owner-1"},
	}).SignedString([]byte("wrong-secret"))
	req, _ = http.NewRequest(http.MethodGet, s.BaseURL+"/missions", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	resp, err = s.Client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHTTPConflictOnReassign(t *testing.T) {
	s := newTestServer(t)
	var m domain.Mission
	s.doJSON(t, http.MethodPost, "/missions", "owner-1", "employer", CreateMissionRequest{Title: "x", Price: "10"}, &m)
	s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/applications", "runner-1", "worker", ApplyRequest{}, nil)
	if code := s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/assign", "owner-1", "employer", AssignRequest{RunnerID: "runner-1"}, nil); code != http.StatusOK {
		t.Fatalf("assign: status %d", code)
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	code := s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/assign", "owner-1", "employer", AssignRequest{RunnerID: "runner-1"}, &envelope)
	if code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", code)
	}
	if envelope.Error.Code != "stale_transition" {
		t.Fatalf("code = %q, want stale_transition", envelope.Error.Code)
	}
}

func TestHTTPForbiddenCancel(t *testing.T) {
	s := newTestServer(t)
	var m domain.Mission
	s.doJSON(t, http.MethodPost, "/missions", "owner-1", "employer", CreateMissionRequest{Title: "x", Price: "10"}, &m)
	code := s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/cancel", "stranger", "worker", nil, nil)
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
}

func TestHTTPVerifyPayment(t *testing.T) {
	s := newTestServer(t)
	var res gateway.VerifyResult
	code := s.doJSON(t, http.MethodPost, "/payments/verify", "user-1", "worker", VerifyPaymentRequest{SessionID: "cs_test_1"}, &res)
	if code != http.StatusOK {
		t.Fatalf("verify: status %d", code)
	}
	if res.AlreadyProcessed || res.Boost == nil {
		t.Fatalf("result = %+v", res)
	}

	// Replays return the stored purchase.
	var replay gateway.VerifyResult
	if code := s.doJSON(t, http.MethodPost, "/payments/verify", "user-1", "worker", VerifyPaymentRequest{SessionID: "cs_test_1"}, &replay); code != http.StatusOK {
		t.Fatalf("replay: status %d", code)
	}
	if !replay.AlreadyProcessed || replay.Purchase.ID != res.Purchase.ID {
		t.Fatalf("replay = %+v", replay)
	}

	var boosts []domain.Boost
	if code := s.doJSON(t, http.MethodGet, "/payments/boosts", "user-1", "worker", nil, &boosts); code != http.StatusOK {
		t.Fatalf("boosts: status %d", code)
	}
	if len(boosts) != 1 {
		t.Fatalf("boosts = %d, want 1", len(boosts))
	}

	// Unknown session surfaces as a gateway error.
	code = s.doJSON(t, http.MethodPost, "/payments/verify", "user-1", "worker", VerifyPaymentRequest{SessionID: "cs_missing"}, nil)
	if code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", code)
	}
}

func TestHTTPAdminSweep(t *testing.T) {
	s := newTestServer(t)
	var m domain.Mission
	s.doJSON(t, http.MethodPost, "/missions", "owner-1", "employer", CreateMissionRequest{Title: "x", Price: "10"}, &m)
	s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/applications", "runner-1", "worker", ApplyRequest{}, nil)
	s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/assign", "owner-1", "employer", AssignRequest{RunnerID: "runner-1"}, nil)
	s.doJSON(t, http.MethodPost, "/missions/"+m.ID+"/proof", "runner-1", "worker", SubmitProofRequest{Evidence: []string{"x"}}, nil)

	if code := s.doJSON(t, http.MethodPost, "/admin/sweep", "runner-1", "worker", nil, nil); code != http.StatusForbidden {
		t.Fatalf("non-admin sweep: status %d, want 403", code)
	}

	*s.Clock = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	var body map[string]int
	if code := s.doJSON(t, http.MethodPost, "/admin/sweep", "admin-1", "admin", nil, &body); code != http.StatusOK {
		t.Fatalf("sweep: status %d", code)
	}
	if body["released"] != 1 {
		t.Fatalf("released = %d, want 1", body["released"])
	}
}

func TestHTTPAPIKeyRoundTrip(t *testing.T) {
	s := newTestServer(t)
	var created APIKeyCreatedResponse
	code := s.doJSON(t, http.MethodPost, "/admin/api-keys", "admin-1", "admin", CreateAPIKeyRequest{
		ActorID: "owner-1",
		Role:    "employer",
		Name:    "ci",
	}, &created)
	if code != http.StatusOK {
		t.Fatalf("create key: status %d", code)
	}
	if created.Key == "" {
		t.Fatalf("no secret returned")
	}

	// The key authenticates as its actor.
	req, _ := http.NewRequest(http.MethodPost, s.BaseURL+"/missions", bytes.NewReader([]byte(`{"title":"via key","price":"10"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", created.Key)
	resp, err := s.Client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var m domain.Mission
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.OwnerID != "owner-1" {
		t.Fatalf("owner = %s, want owner-1", m.OwnerID)
	}

	// Non-admins cannot manage keys.
	if code := s.doJSON(t, http.MethodGet, "/admin/api-keys", "owner-1", "employer", nil, nil); code != http.StatusForbidden {
		t.Fatalf("list as non-admin: status %d, want 403", code)
	}
}
