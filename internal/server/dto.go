package server

import (
	"gigline/internal/domain"
)

// Request payloads

type CreateMissionRequest struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price" example:"25.00"`
	Currency    string `json:"currency,omitempty" example:"USD"`
}

type ApplyRequest struct {
	Message string `json:"message,omitempty"`
}

type AssignRequest struct {
	RunnerID string `json:"runner_id"`
}

type SubmitProofRequest struct {
	Evidence []string `json:"evidence" minItems:"1"`
	Notes    string   `json:"notes,omitempty"`
}

type ResolveRequest struct {
	Outcome string `json:"outcome" enum:"completed,cancelled"`
}

type VerifyPaymentRequest struct {
	SessionID string `json:"session_id"`
}

type CreateReviewRequest struct {
	MissionID string   `json:"mission_id"`
	Rating    int      `json:"rating" minimum:"1" maximum:"5"`
	Comment   string   `json:"comment,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty" enum:"worker,employer,admin"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type missionResponse struct {
	Body domain.Mission `json:"body"`
}

type missionListBody struct {
	Missions []domain.Mission  `json:"missions"`
	Source   domain.DataSource `json:"source"`
}

type missionListResponse struct {
	Body missionListBody `json:"body"`
}

type APIKeyCreatedResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
	Name    string `json:"name,omitempty"`
	// Key is shown once at creation; only its hash is stored.
	Key string `json:"key"`
}

type okResponse struct {
	Body struct {
		OK bool `json:"ok"`
	} `json:"body"`
}

func okBody() *okResponse {
	res := &okResponse{}
	res.Body.OK = true
	return res
}
