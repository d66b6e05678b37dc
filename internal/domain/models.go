// Package domain provides domain models and business logic for the paper review service.
package domain

// ReviewStatus represents the lifecycle states of one paper review run.
type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusRunning   ReviewStatus = "running"
	ReviewStatusDegraded  ReviewStatus = "degraded"
	ReviewStatusCompleted ReviewStatus = "completed"
	ReviewStatusFailed    ReviewStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s ReviewStatus) IsTerminal() bool {
	switch s {
	case ReviewStatusCompleted, ReviewStatusDegraded, ReviewStatusFailed:
		return true
	default:
		return false
	}
}

// StagePolicy decides what a stage failure means for the whole run.
type StagePolicy string

const (
	// StagePolicyFatal fails the run when the stage times out or errors.
	StagePolicyFatal StagePolicy = "fatal"

	// StagePolicyDegrade substitutes a fallback value and continues.
	StagePolicyDegrade StagePolicy = "degrade"
)

// StageStatus records how a single stage ended.
type StageStatus string

const (
	StageStatusCompleted StageStatus = "completed"
	StageStatusTimedOut  StageStatus = "timed_out"
	StageStatusFailed    StageStatus = "failed"
	StageStatusCancelled StageStatus = "cancelled"
)

// Section is one titled block of the generated review.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// PaperFields is the structured view of the submitted paper. Every field is
// optional; extraction is best-effort.
type PaperFields struct {
	Title    string    `json:"title,omitempty"`
	Abstract string    `json:"abstract,omitempty"`
	Keywords []string  `json:"keywords,omitempty"`
	Sections []Section `json:"sections,omitempty"`

	// BestEffort is set when the fields came from the heuristic extractor
	// rather than the language model.
	BestEffort bool `json:"best_effort"`
}

// IsEmpty reports whether no field carries any content.
func (f PaperFields) IsEmpty() bool {
	return f.Title == "" && f.Abstract == "" && len(f.Keywords) == 0 && len(f.Sections) == 0
}
