package store

import "time"

// SessionStatus is the lifecycle state of a planning session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Validation holds the scoring dimensions for an idea, each on a 0-10 scale.
type Validation struct {
	Feasibility int     `json:"feasibility"`
	Demand      int     `json:"demand"`
	Viability   int     `json:"viability"`
	Overall     float64 `json:"overall"`
}

// Idea is a scored product/feature concept.
type Idea struct {
	ID            string     `json:"id"`
	Domain        string     `json:"domain"`
	Description   string     `json:"description"`
	Confidence    float64    `json:"confidence"`
	MarketSummary string     `json:"market_summary,omitempty"`
	Features      []string   `json:"features,omitempty"`
	Validation    Validation `json:"validation"`
	CreatedAt     time.Time  `json:"created_at"`
}

// PlanningIteration is one pass of the planning loop. Iterations are
// immutable once appended and indexed from 1.
type PlanningIteration struct {
	Index       int                `json:"index"`
	Context     string             `json:"context"`
	ResultText  string             `json:"result_text"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Confidence  float64            `json:"confidence"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ConvergenceSummary captures how the session's scores evolved.
type ConvergenceSummary struct {
	ImprovementTrend float64 `json:"improvement_trend"`
	ConvergenceRate  float64 `json:"convergence_rate"`
	PeakScore        float64 `json:"peak_score"`
	ScoreVariance    float64 `json:"score_variance"`
}

// PlanningSession is the aggregate for one planning run.
type PlanningSession struct {
	ID          string              `json:"id"`
	IdeaID      string              `json:"idea_id,omitempty"`
	Domain      string              `json:"domain"`
	Status      SessionStatus       `json:"status"`
	Iterations  []PlanningIteration `json:"iterations"`
	FinalPlan   string              `json:"final_plan,omitempty"`
	Confidence  float64             `json:"confidence"`
	Convergence *ConvergenceSummary `json:"convergence,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Project records a developed project on disk (and optionally on GitHub).
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	Path      string    `json:"path"`
	GitHubURL string    `json:"github_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
