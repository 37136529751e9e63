package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/gateway"
	"gigline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Bridge   gateway.Bridge
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stale_transition"`
	Message string         `json:"message" example:"stale state transition: open -> completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gigline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Gigline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerMissions(group, cfg.Engine)
	registerCompletion(group, cfg.Engine)
	registerPayments(group, cfg.Bridge, cfg.Engine)
	registerReviews(group, cfg.Engine)
	registerProfiles(group, cfg.Engine)
	registerBadges(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the status codes a caller needs to
// pick a retry strategy: conflicts are never retried, payment gateway
// failures may be.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, engine.ErrStaleTransition):
		return newAPIError(http.StatusConflict, "stale_transition", err.Error(), nil)
	case errors.Is(err, engine.ErrNotAuthorized):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, engine.ErrPaymentNotCompleted):
		return newAPIError(http.StatusPaymentRequired, "payment_not_completed", err.Error(), nil)
	case errors.Is(err, engine.ErrPaymentGateway):
		return newAPIError(http.StatusBadGateway, "payment_gateway_error", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if engine.IsValidation(err) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusPaymentRequired:
		return "payment_not_completed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		name := "gigline"
		if e.Config != nil && e.Config.Platform.Name != "" {
			name = e.Config.Platform.Name
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok", "platform": name}}, nil
	})
}

func registerMissions(api huma.API, e engine.Engine) {
	type MissionPath struct {
		MissionID string `path:"mission_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "create-mission",
		Method:      http.MethodPost,
		Path:        "/missions",
		Summary:     "Post a mission",
	}, func(ctx context.Context, input *struct {
		Body CreateMissionRequest
	}) (*missionResponse, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMission(ctx, engine.MissionCreateOptions{
			ID:          input.Body.ID,
			OwnerID:     principal.ActorID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Price:       input.Body.Price,
			Currency:    input.Body.Currency,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResponse{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status" enum:"open,assigned,pending_completion,completed,cancelled,disputed" required:"false"`
		OwnerID         string `query:"owner_id" required:"false"`
		RunnerID        string `query:"runner_id" required:"false"`
		Limit           int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		CursorCreatedAt string `query:"cursor_created_at" required:"false"`
		CursorID        string `query:"cursor_id" required:"false"`
	}) (*missionListResponse, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		missions, err := e.Repo.ListMissions(ctx, repo.MissionFilters{
			Status:          input.Status,
			OwnerID:         input.OwnerID,
			RunnerID:        input.RunnerID,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &missionListResponse{Body: missionListBody{Missions: missions, Source: domain.LiveSource()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discover-missions",
		Method:      http.MethodGet,
		Path:        "/missions/discover",
		Summary:     "Public mission feed",
		Description: "Open missions for browsing. Served from the store when healthy; configured samples tagged degraded otherwise.",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*missionListResponse, error) {
		missions, source, err := e.DiscoverMissions(ctx, repo.MissionFilters{
			Status: domain.MissionOpen,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &missionListResponse{Body: missionListBody{Missions: missions, Source: source}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}",
		Summary:     "Get a mission",
	}, func(ctx context.Context, input *MissionPath) (*missionResponse, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		m, err := e.GetMission(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResponse{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mission-escrow",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}/escrow",
		Summary:     "Get a mission's escrow record",
	}, func(ctx context.Context, input *MissionPath) (*struct {
		Body domain.EscrowRecord `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		esc, err := e.GetEscrow(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EscrowRecord `json:"body"`
		}{Body: esc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-to-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/applications",
		Summary:     "Apply to an open mission",
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body ApplyRequest
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Apply(ctx, input.MissionID, principal.ActorID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mission-applications",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}/applications",
		Summary:     "List applications for a mission",
	}, func(ctx context.Context, input *MissionPath) (*struct {
		Body []domain.Application `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.GetMission(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		if principal.ActorID != m.OwnerID && principal.Role != domain.RoleAdmin {
			return nil, handleError(fmt.Errorf("%w: only the owner lists applications", engine.ErrNotAuthorized))
		}
		apps, err := e.ListApplications(ctx, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Application `json:"body"`
		}{Body: apps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-application",
		Method:      http.MethodDelete,
		Path:        "/missions/{mission_id}/applications",
		Summary:     "Withdraw own application",
	}, func(ctx context.Context, input *MissionPath) (*okResponse, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.WithdrawApplication(ctx, input.MissionID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return okBody(), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/assign",
		Summary:     "Assign an applicant as runner",
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body AssignRequest
	}) (*missionResponse, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Assign(ctx, input.MissionID, input.Body.RunnerID, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResponse{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/cancel",
		Summary:     "Cancel an open mission",
	}, func(ctx context.Context, input *MissionPath) (*missionResponse, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Cancel(ctx, input.MissionID, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResponse{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispute-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/dispute",
		Summary:     "Raise a dispute",
	}, func(ctx context.Context, input *MissionPath) (*missionResponse, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Dispute(ctx, input.MissionID, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResponse{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/resolve",
		Summary:     "Resolve a disputed mission",
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body ResolveRequest
	}) (*missionResponse, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ResolveDispute(ctx, input.MissionID, input.Body.Outcome, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResponse{Body: m}, nil
	})
}

func registerCompletion(api huma.API, e engine.Engine) {
	type MissionPath struct {
		MissionID string `path:"mission_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "submit-proof",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/proof",
		Summary:     "Submit completion proof",
	}, func(ctx context.Context, input *struct {
		MissionPath
		Body SubmitProofRequest
	}) (*missionResponse, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SubmitProof(ctx, input.MissionID, principal.ActorID, input.Body.Evidence, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResponse{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-mission",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/approve",
		Summary:     "Approve completion and release escrow",
	}, func(ctx context.Context, input *MissionPath) (*missionResponse, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Approve(ctx, input.MissionID, principal.ActorID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &missionResponse{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-overdue",
		Method:      http.MethodPost,
		Path:        "/admin/sweep",
		Summary:     "Run the auto-release sweep",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.Role != domain.RoleAdmin {
			return nil, handleError(fmt.Errorf("%w: sweep is admin only", engine.ErrNotAuthorized))
		}
		released, err := e.ReleaseOverdue(ctx, 0)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"released": released}}, nil
	})
}

func registerPayments(api huma.API, b gateway.Bridge, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-payment",
		Method:      http.MethodPost,
		Path:        "/payments/verify",
		Summary:     "Verify a checkout session",
		Description: "Retrieves the session from the payment processor and records the purchase exactly once. Safe to call repeatedly.",
	}, func(ctx context.Context, input *struct {
		Body VerifyPaymentRequest
	}) (*struct {
		Body gateway.VerifyResult `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result, err := b.VerifyCheckout(ctx, input.Body.SessionID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body gateway.VerifyResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-purchases",
		Method:      http.MethodGet,
		Path:        "/payments/purchases",
		Summary:     "List own purchases",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Purchase `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		purchases, err := e.Repo.ListPurchases(ctx, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Purchase `json:"body"`
		}{Body: purchases}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-boosts",
		Method:      http.MethodGet,
		Path:        "/payments/boosts",
		Summary:     "List own active boosts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Boost `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		boosts, err := e.Repo.ActiveBoosts(ctx, principal.ActorID, now().UTC().Format(time.RFC3339))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Boost `json:"body"`
		}{Body: boosts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transactions",
		Method:      http.MethodGet,
		Path:        "/transactions",
		Summary:     "List own ledger entries",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"100" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Transaction `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		txs, err := e.Repo.ListTransactions(ctx, principal.ActorID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Transaction `json:"body"`
		}{Body: txs}, nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-review",
		Method:      http.MethodPost,
		Path:        "/reviews",
		Summary:     "Review the other party of a completed mission",
	}, func(ctx context.Context, input *struct {
		Body CreateReviewRequest
	}) (*struct {
		Body domain.Review `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.AddReview(ctx, engine.ReviewCreateOptions{
			MissionID:  input.Body.MissionID,
			ReviewerID: principal.ActorID,
			Rating:     input.Body.Rating,
			Comment:    input.Body.Comment,
			Tags:       input.Body.Tags,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Review `json:"body"`
		}{Body: rv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-user-reviews",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/reviews",
		Summary:     "List reviews about a user",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Review `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		reviews, err := e.ListReviewsFor(ctx, input.UserID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Review `json:"body"`
		}{Body: reviews}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	type userPath struct {
		UserID string `path:"user_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/profile",
		Summary:     "Get a user's reputation aggregate",
	}, func(ctx context.Context, input *userPath) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProfile(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-user-achievements",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/achievements",
		Summary:     "List a user's unlocked badges",
	}, func(ctx context.Context, input *userPath) (*struct {
		Body []domain.Achievement `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		achievements, err := e.ListAchievements(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Achievement `json:"body"`
		}{Body: achievements}, nil
	})
}

func registerBadges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-badges",
		Method:      http.MethodGet,
		Path:        "/badges",
		Summary:     "List the badge catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Badge `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		badges, err := e.ListBadges(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Badge `json:"body"`
		}{Body: badges}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail recent events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		SubjectID  string `query:"subject_id" required:"false"`
		Type       string `query:"type" required:"false"`
		EntityKind string `query:"entity_kind" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		events, err := e.Repo.LatestEvents(ctx, input.Limit, input.SubjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: events}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-api-key",
		Method:      http.MethodPost,
		Path:        "/admin/api-keys",
		Summary:     "Create an API key",
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.Role != domain.RoleAdmin {
			return nil, handleError(fmt.Errorf("%w: api key management is admin only", engine.ErrNotAuthorized))
		}
		secret := uuid.NewString() + uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Role:    domain.ParseRole(input.Body.Role),
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(secret),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{ID: key.ID, ActorID: key.ActorID, Role: string(key.Role), Name: key.Name, Key: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/admin/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id" required:"false"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.Role != domain.RoleAdmin {
			return nil, handleError(fmt.Errorf("%w: api key management is admin only", engine.ErrNotAuthorized))
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range keys {
			keys[i].KeyHash = ""
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/admin/api-keys/{key_id}",
		Summary:     "Delete an API key",
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*okResponse, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.Role != domain.RoleAdmin {
			return nil, handleError(fmt.Errorf("%w: api key management is admin only", engine.ErrNotAuthorized))
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return okBody(), nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		ensureLeadingSlash(path.Join(basePath, "health")):            true,
		ensureLeadingSlash(path.Join(basePath, "missions/discover")): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func ensureLeadingSlash(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Gigline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
