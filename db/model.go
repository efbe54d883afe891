package db

import "time"

// ===========================
// EXPERT MODELS
// ===========================

// ExpertLevel is the ordinal seniority tier used both to gate who may handle
// a request and as the escalation target ladder.
type ExpertLevel string

const (
	LevelJunior    ExpertLevel = "junior"
	LevelSenior    ExpertLevel = "senior"
	LevelLead      ExpertLevel = "lead"
	LevelPrincipal ExpertLevel = "principal"
	LevelDirector  ExpertLevel = "director"
)

var levelRank = map[ExpertLevel]int{
	LevelJunior:    0,
	LevelSenior:    1,
	LevelLead:      2,
	LevelPrincipal: 3,
	LevelDirector:  4,
}

var levelLadder = []ExpertLevel{LevelJunior, LevelSenior, LevelLead, LevelPrincipal, LevelDirector}

// Rank returns the ordinal position of the level, -1 for unknown values.
func (l ExpertLevel) Rank() int {
	r, ok := levelRank[l]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether the level is one of the known tiers.
func (l ExpertLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// AtLeast reports whether l is at or above min on the ladder.
func (l ExpertLevel) AtLeast(min ExpertLevel) bool {
	return l.Valid() && min.Valid() && levelRank[l] >= levelRank[min]
}

// Next returns the level one tier above l. The second return value is false
// when l is already Director (or unknown) and no higher tier exists.
func (l ExpertLevel) Next() (ExpertLevel, bool) {
	r := l.Rank()
	if r < 0 || r >= len(levelLadder)-1 {
		return l, false
	}
	return levelLadder[r+1], true
}

// ExpertProfile represents a human expert that interventions can be routed to.
// Load counters are owned by the registry and must only change through
// reserve/release, never by direct mutation.
type ExpertProfile struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Contact     string      `json:"contact"` // email or chat handle
	Level       ExpertLevel `json:"level"`
	Specialties []string    `json:"specialties,omitempty"`
	CurrentLoad int         `json:"current_load"`
	MaxLoad     int         `json:"max_load"`
	SuccessRate float64     `json:"success_rate"`      // rolling, 0-1
	AvgResponse float64     `json:"avg_response_time"` // rolling, minutes
	IsAvailable bool        `json:"is_available"`      // derived: current_load < max_load
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ===========================
// INTERVENTION MODELS
// ===========================

// RequestStatus is the canonical lifecycle state of an intervention request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusEscalated  RequestStatus = "escalated"
	StatusCompleted  RequestStatus = "completed"
	StatusExpired    RequestStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// InterventionType classifies why the automated system handed off.
type InterventionType string

const (
	TypeApprovalRequired InterventionType = "approval_required"
	TypeConsultation     InterventionType = "consultation"
	TypeCriticalDecision InterventionType = "critical_decision"
	TypeEscalation       InterventionType = "escalation"
	TypeEmergency        InterventionType = "emergency"
	TypeTraining         InterventionType = "training"
	TypeReview           InterventionType = "review"
)

var validTypes = map[InterventionType]bool{
	TypeApprovalRequired: true,
	TypeConsultation:     true,
	TypeCriticalDecision: true,
	TypeEscalation:       true,
	TypeEmergency:        true,
	TypeTraining:         true,
	TypeReview:           true,
}

// Valid reports whether the type is a known intervention type.
func (t InterventionType) Valid() bool { return validTypes[t] }

// Complexity grades how demanding the decision is.
type Complexity string

const (
	ComplexityLow       Complexity = "low"
	ComplexityMedium    Complexity = "medium"
	ComplexityHigh      Complexity = "high"
	ComplexityCritical  Complexity = "critical"
	ComplexityEmergency Complexity = "emergency"
)

var validComplexities = map[Complexity]bool{
	ComplexityLow:       true,
	ComplexityMedium:    true,
	ComplexityHigh:      true,
	ComplexityCritical:  true,
	ComplexityEmergency: true,
}

// Valid reports whether the complexity is a known grade.
func (c Complexity) Valid() bool { return validComplexities[c] }

// EscalationEvent is one entry in a request's escalation history.
type EscalationEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	Reason    string      `json:"reason"`
	FromLevel ExpertLevel `json:"from_level"`
	ToLevel   ExpertLevel `json:"to_level"`
}

// InterventionRequest is a single decision handed off to a human expert.
// Required level is monotonically non-decreasing across the lifetime of the
// request; terminal requests are archived, never deleted.
type InterventionRequest struct {
	ID                string                 `json:"id"`
	ClientID          string                 `json:"client_id"`
	Type              InterventionType       `json:"intervention_type"`
	Status            RequestStatus          `json:"status"`
	Priority          int                    `json:"priority"`   // 1-10
	Complexity        Complexity             `json:"complexity"`
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	Context           map[string]interface{} `json:"context,omitempty"`
	AIRecommendation  string                 `json:"ai_recommendation,omitempty"`
	AIConfidence      *float64               `json:"ai_confidence,omitempty"` // 0-1, caller supplied
	RequiredLevel     ExpertLevel            `json:"required_expert_level"`
	AssignedExpert    string                 `json:"assigned_expert,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	Deadline          time.Time              `json:"deadline"`
	EscalationHistory []EscalationEvent      `json:"escalation_history,omitempty"`
	Tags              []string               `json:"tags,omitempty"`
}

// ExpertDecision is the write-once record that terminates a request.
type ExpertDecision struct {
	ID              string    `json:"id"`
	RequestID       string    `json:"request_id"`
	ExpertID        string    `json:"expert_id"`
	Decision        string    `json:"decision"`
	Reasoning       string    `json:"reasoning"`
	Confidence      float64   `json:"confidence"` // 0-1
	Alternatives    []string  `json:"alternatives,omitempty"`
	RiskAssessment  string    `json:"risk_assessment,omitempty"`
	FollowUpActions []string  `json:"follow_up_actions,omitempty"`
	LearningNotes   string    `json:"learning_notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ===========================
// REQUEST / RESPONSE MODELS
// ===========================

type CreateInterventionRequest struct {
	ClientID         string                 `json:"client_id" binding:"required"`
	Type             InterventionType       `json:"intervention_type" binding:"required"`
	Title            string                 `json:"title" binding:"required"`
	Description      string                 `json:"description"`
	Context          map[string]interface{} `json:"context,omitempty"`
	AIRecommendation string                 `json:"ai_recommendation,omitempty"`
	AIConfidence     *float64               `json:"ai_confidence,omitempty"`
	Priority         int                    `json:"priority,omitempty"`   // default 5
	Complexity       Complexity             `json:"complexity,omitempty"` // default medium
	DeadlineMinutes  int                    `json:"deadline_minutes,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
}

type SubmitDecisionRequest struct {
	ExpertID        string   `json:"expert_id" binding:"required"`
	Decision        string   `json:"decision" binding:"required"`
	Reasoning       string   `json:"reasoning"`
	Confidence      *float64 `json:"confidence,omitempty"` // default 0.8
	Alternatives    []string `json:"alternatives,omitempty"`
	RiskAssessment  string   `json:"risk_assessment,omitempty"`
	FollowUpActions []string `json:"follow_up_actions,omitempty"`
	LearningNotes   string   `json:"learning_points,omitempty"`
}

type EscalateRequest struct {
	Reason      string      `json:"reason" binding:"required"`
	TargetLevel ExpertLevel `json:"target_level,omitempty"`
}

// InterventionStatus is the read model returned by status queries.
type InterventionStatus struct {
	ID                string        `json:"id"`
	Status            RequestStatus `json:"status"`
	Priority          int           `json:"priority"`
	Complexity        Complexity    `json:"complexity"`
	RequiredLevel     ExpertLevel   `json:"required_expert_level"`
	AssignedExpert    string        `json:"assigned_expert,omitempty"`
	Deadline          time.Time     `json:"deadline"`
	MinutesToDeadline float64       `json:"minutes_to_deadline"` // negative once past
	EscalationCount   int           `json:"escalation_count"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// ExpertWorkload is the read model returned by workload queries.
type ExpertWorkload struct {
	ExpertID    string  `json:"expert_id"`
	CurrentLoad int     `json:"current_load"`
	MaxLoad     int     `json:"max_load"`
	ActiveCount int     `json:"active_count"` // non-terminal requests assigned
	IsAvailable bool    `json:"is_available"`
	SuccessRate float64 `json:"success_rate"`
	AvgResponse float64 `json:"avg_response_time"`
}
