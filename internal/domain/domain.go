package domain

// Mission statuses. A mission only ever moves forward through these; the
// engine enforces the allowed edges.
const (
	MissionOpen              = "open"
	MissionAssigned          = "assigned"
	MissionPendingCompletion = "pending_completion"
	MissionCompleted         = "completed"
	MissionCancelled         = "cancelled"
	MissionDisputed          = "disputed"
)

// Escrow statuses. Escrow moves in lock-step with the mission: it is never
// released while the mission is not completed, and a cancelled mission's
// funds end up refunded, not released.
const (
	EscrowReserved       = "reserved"
	EscrowHeld           = "held"
	EscrowPendingRelease = "pending_release"
	EscrowReleased       = "released"
	EscrowRefunded       = "refunded"
	EscrowDisputed       = "disputed"
)

// Ledger transaction types and statuses.
const (
	TxDebit  = "debit"
	TxCredit = "credit"

	TxEscrowReserve = "escrow_reserve"
	TxEscrowRelease = "escrow_release"
	TxRefund        = "refund"
	TxPayout        = "payout"
)

// Badge requirement types.
const (
	RequirementMissionCount = "mission_count"
	RequirementEarnings     = "cumulative_earnings"
	RequirementMinRating    = "min_rating"
)

// Role is the closed set of caller roles, resolved once at the auth
// boundary and passed into transition guards.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleEmployer Role = "employer"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a claim value onto the closed enum, defaulting to worker.
func ParseRole(s string) Role {
	switch s {
	case string(RoleEmployer):
		return RoleEmployer
	case string(RoleAdmin):
		return RoleAdmin
	default:
		return RoleWorker
	}
}

type Mission struct {
	ID           string  `json:"id"`
	OwnerID      string  `json:"owner_id"`
	RunnerID     *string `json:"runner_id,omitempty"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Price        string  `json:"price"`
	Currency     string  `json:"currency"`
	Status       string  `json:"status" enum:"open,assigned,pending_completion,completed,cancelled,disputed"`
	EvidenceJSON *string `json:"evidence_json,omitempty"`
	ProofNotes   *string `json:"proof_notes,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date-time"`
}

type Application struct {
	ID          string `json:"id"`
	MissionID   string `json:"mission_id"`
	ApplicantID string `json:"applicant_id"`
	Message     string `json:"message,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type EscrowRecord struct {
	MissionID     string  `json:"mission_id"`
	Amount        string  `json:"amount"`
	Status        string  `json:"status" enum:"reserved,held,pending_release,released,refunded,disputed"`
	AutoReleaseAt *string `json:"auto_release_at,omitempty" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type Transaction struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	MissionID string `json:"mission_id,omitempty"`
	Amount    string `json:"amount"`
	Type      string `json:"type" enum:"debit,credit"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Purchase struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	ProductID       string `json:"product_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	MetadataJSON    string `json:"metadata_json,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Boost struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	ProductID   string `json:"product_id"`
	PurchaseID  string `json:"purchase_id"`
	ActivatedAt string `json:"activated_at" format:"date-time"`
	ExpiresAt   string `json:"expires_at" format:"date-time"`
	IsActive    bool   `json:"is_active"`
}

type Review struct {
	ID             string `json:"id"`
	MissionID      string `json:"mission_id"`
	ReviewerID     string `json:"reviewer_id"`
	ReviewedUserID string `json:"reviewed_user_id"`
	Rating         int    `json:"rating" minimum:"1" maximum:"5"`
	Comment        string `json:"comment,omitempty"`
	TagsJSON       string `json:"tags_json,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// Profile is the derived per-subject aggregate. It is mutated only inside
// the transactions that complete missions or insert reviews.
type Profile struct {
	SubjectID      string `json:"subject_id"`
	RatingAvg      string `json:"rating_avg"`
	RatingCount    int    `json:"rating_count"`
	CompletedCount int    `json:"completed_count"`
	Earnings       string `json:"earnings"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

type Badge struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	RequirementType  string `json:"requirement_type" enum:"mission_count,cumulative_earnings,min_rating"`
	RequirementValue string `json:"requirement_value"`
	CreatedAt        string `json:"created_at" format:"date-time"`
}

type Achievement struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	BadgeID    string `json:"badge_id"`
	UnlockedAt string `json:"unlocked_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SubjectID  string `json:"subject_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      Role   `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DataSource tags a read-path result as served live from the store or from
// configured sample data after a store failure. Callers decide how to
// surface degraded reads; there is no ambient fallback state.
type DataSource struct {
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

func LiveSource() DataSource { return DataSource{} }

func DegradedSource(reason string) DataSource {
	return DataSource{Degraded: true, Reason: reason}
}
