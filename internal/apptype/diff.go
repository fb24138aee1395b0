package apptype

import "fmt"

// DiffType classifies a Difference.
type DiffType string

const (
	DiffNew      DiffType = "new"
	DiffModified DiffType = "modified"
	DiffDeleted  DiffType = "deleted"
	DiffConflict DiffType = "conflict"
)

// DiffCategory names the kind of object a Difference refers to. Categories
// are emitted in declaration order: project, file, cot_item, candidate.
type DiffCategory string

const (
	CategoryProject   DiffCategory = "project"
	CategoryFile      DiffCategory = "file"
	CategoryCotItem   DiffCategory = "cot_item"
	CategoryCandidate DiffCategory = "candidate"
)

// Severity grades a Difference for the confirmation UI.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityNormal Severity = "normal"
	SeverityHigh   Severity = "high"
)

// Difference is one typed delta between a source and target Snapshot item.
// IDs are deterministic functions of (category, type, entity id, field) so
// that re-running analysis on unchanged inputs yields identical ids.
type Difference struct {
	ID          string       `json:"id"`
	Type        DiffType     `json:"type"`
	Category    DiffCategory `json:"category"`
	EntityID    string       `json:"entity_id,omitempty"`
	Field       string       `json:"field,omitempty"`
	Current     any          `json:"current_value,omitempty"`
	New         any          `json:"new_value,omitempty"`
	Description string       `json:"description"`
	Severity    Severity     `json:"severity"`
}

// DifferenceID derives the deterministic id for a delta.
func DifferenceID(category DiffCategory, typ DiffType, entityID, field string) string {
	if field == "" {
		return fmt.Sprintf("%s_%s_%s", category, typ, entityID)
	}
	return fmt.Sprintf("%s_%s_%s_%s", category, typ, entityID, field)
}

// ResolutionAction is the user's chosen way to settle one Difference.
type ResolutionAction string

const (
	ResolveKeepCurrent ResolutionAction = "keep_current"
	ResolveUseNew      ResolutionAction = "use_new"
	ResolveMerge       ResolutionAction = "merge"
	ResolveSkip        ResolutionAction = "skip"
)

// Resolution settles one Difference or Conflict during execution.
type Resolution struct {
	DifferenceID string           `json:"difference_id"`
	Action       ResolutionAction `json:"action"`
	CustomValue  any              `json:"custom_value,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

// ImportMode selects the reconciliation strategy.
type ImportMode string

const (
	ImportCreateNew ImportMode = "create_new"
	ImportMerge     ImportMode = "merge"
)

// ImportCounts tallies per-category outcomes of one import execution.
type ImportCounts struct {
	Files      int `json:"files"`
	CotItems   int `json:"cot_items"`
	Candidates int `json:"candidates"`
}

// ImportResult is the structured outcome of one reconciliation run. Silent
// failure is disallowed: every degraded path appends a message to Errors or
// Warnings.
type ImportResult struct {
	Success       bool         `json:"success"`
	ProjectID     string       `json:"project_id,omitempty"`
	Imported      ImportCounts `json:"imported_items"`
	Skipped       ImportCounts `json:"skipped_items"`
	Errors        []string     `json:"errors"`
	Warnings      []string     `json:"warnings"`
	ExecutionTime float64      `json:"execution_time"`
}

// GraphResult pairs entities with their relations for graph read operations.
type GraphResult struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}
