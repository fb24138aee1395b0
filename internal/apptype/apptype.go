// Package apptype defines the canonical in-memory model for project
// snapshots, diffing, reconciliation, and knowledge extraction.
package apptype

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
)

// SourceType describes how a CoT item was produced.
type SourceType string

const (
	SourceManual         SourceType = "manual"
	SourceHumanAI        SourceType = "human_ai"
	SourceGeneralization SourceType = "generalization"
)

// ItemStatus is the review status of a CoT item.
type ItemStatus string

const (
	StatusDraft    ItemStatus = "draft"
	StatusReviewed ItemStatus = "reviewed"
	StatusApproved ItemStatus = "approved"
	StatusRejected ItemStatus = "rejected"
)

// statusRank orders statuses for merge resolution: rejected < draft < reviewed < approved.
var statusRank = map[ItemStatus]int{
	StatusRejected: 0,
	StatusDraft:    1,
	StatusReviewed: 2,
	StatusApproved: 3,
}

// Rank returns the merge ordering of s. Unknown statuses rank as draft.
func (s ItemStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return statusRank[StatusDraft]
}

// Locked reports whether s counts as independently finalized for conflict
// detection (reviewed or approved).
func (s ItemStatus) Locked() bool {
	return s == StatusReviewed || s == StatusApproved
}

// MergeStatus picks the more advanced of two statuses.
func MergeStatus(a, b ItemStatus) ItemStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Candidate is one answer candidate embedded in a CoT item.
type Candidate struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	ChainOfThought string  `json:"chain_of_thought,omitempty"`
	Score          float64 `json:"score"`
	Chosen         bool    `json:"chosen"`
	Rank           int     `json:"rank"`
}

// CotExportItem is one annotation unit inside a Snapshot.
type CotExportItem struct {
	ID             string      `json:"id"`
	Question       string      `json:"question"`
	ChainOfThought string      `json:"chain_of_thought,omitempty"`
	Source         SourceType  `json:"source"`
	Status         ItemStatus  `json:"status"`
	CreatedBy      string      `json:"created_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	SliceContent   string      `json:"slice_content,omitempty"`
	SliceType      string      `json:"slice_type,omitempty"`
	FileName       string      `json:"file_name,omitempty"`
	Candidates     []Candidate `json:"candidates"`
}

// ChosenCandidate returns the single candidate flagged chosen, or nil.
func (it *CotExportItem) ChosenCandidate() *Candidate {
	for i := range it.Candidates {
		if it.Candidates[i].Chosen {
			return &it.Candidates[i]
		}
	}
	return nil
}

// FileInfo is one file manifest entry in a Snapshot. Files are matched by
// content hash during diffing and treated as immutable once hashed.
type FileInfo struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mime_type,omitempty"`
	FileHash  string    `json:"file_hash"`
	OCRStatus string    `json:"ocr_status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotMetadata carries project-level export metadata and counts.
type SnapshotMetadata struct {
	ProjectName        string         `json:"project_name"`
	ProjectDescription string         `json:"project_description,omitempty"`
	ExportFormat       string         `json:"export_format,omitempty"`
	ExportTimestamp    time.Time      `json:"export_timestamp"`
	TotalFiles         int            `json:"total_files"`
	TotalCotItems      int            `json:"total_cot_items"`
	TotalCandidates    int            `json:"total_candidates"`
	ExportSettings     map[string]any `json:"export_settings,omitempty"`
}

// KGData is the optional knowledge-graph payload of a Snapshot.
type KGData struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Snapshot is the root export/import unit for one project. It is constructed
// transiently per request and never persisted as its own record.
type Snapshot struct {
	Metadata  SnapshotMetadata `json:"metadata"`
	CotItems  []CotExportItem  `json:"cot_items"`
	FilesInfo []FileInfo       `json:"files_info"`
	KGData    *KGData          `json:"kg_data"`
}

// Validate enforces the structural invariants of a Snapshot: the item count
// in metadata matches the item list, candidate ranks within an item are
// unique and contiguous from 1, at most one candidate per item is chosen,
// and scores stay within [0,1].
func (s *Snapshot) Validate() error {
	if err := validation.ValidateStruct(&s.Metadata,
		validation.Field(&s.Metadata.ProjectName, validation.Required),
		validation.Field(&s.Metadata.TotalCotItems, validation.Min(0)),
	); err != nil {
		return err
	}
	if s.Metadata.TotalCotItems != len(s.CotItems) {
		return apperr.Validation("metadata.total_cot_items",
			"declares %d items but document carries %d", s.Metadata.TotalCotItems, len(s.CotItems))
	}
	for _, item := range s.CotItems {
		if item.ID == "" {
			return apperr.Validation("cot_items.id", "item is missing an id")
		}
		chosen := 0
		seen := make(map[int]bool, len(item.Candidates))
		for _, c := range item.Candidates {
			if c.Chosen {
				chosen++
			}
			if c.Score < 0 || c.Score > 1 {
				return apperr.Validation("candidates.score",
					"item %s candidate %s score %v outside [0,1]", item.ID, c.ID, c.Score)
			}
			if c.Rank < 1 || c.Rank > len(item.Candidates) || seen[c.Rank] {
				return apperr.Validation("candidates.rank",
					"item %s has non-contiguous or duplicate rank %d", item.ID, c.Rank)
			}
			seen[c.Rank] = true
		}
		if chosen > 1 {
			return apperr.Validation("candidates.chosen",
				"item %s has %d chosen candidates, at most one allowed", item.ID, chosen)
		}
	}
	return nil
}

// Entity is a persisted knowledge-graph node, deduplicated by
// (name, entity_type) within a project.
type Entity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	EntityType  string    `json:"entity_type"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Relation is a persisted directed edge, deduplicated by
// (source_id, target_id, relation_type) within a project.
type Relation struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"source_id"`
	TargetID     string    `json:"target_id"`
	RelationType string    `json:"relation_type"`
	Description  string    `json:"description,omitempty"`
	Confidence   float64   `json:"confidence"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TypeOther is the catch-all bucket for unrecognized type strings.
const TypeOther = "other"

var knownEntityTypes = map[string]bool{
	"person": true, "organization": true, "location": true,
	"concept": true, "event": true, "method": true, "object": true,
	TypeOther: true,
}

var knownRelationTypes = map[string]bool{
	"causes": true, "part_of": true, "belongs_to": true, "related_to": true,
	"depends_on": true, "leads_to": true, TypeOther: true,
}

// CoerceEntityType maps unknown entity type strings to "other".
func CoerceEntityType(t string) string {
	if knownEntityTypes[t] {
		return t
	}
	return TypeOther
}

// CoerceRelationType maps unknown relation type strings to "other".
func CoerceRelationType(t string) string {
	if knownRelationTypes[t] {
		return t
	}
	return TypeOther
}

// ExtractedEntity is one candidate entity parsed from a completion response.
type ExtractedEntity struct {
	Name        string  `json:"name"`
	EntityType  string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// ExtractedRelation is one candidate relation parsed from a completion
// response. Source and Target reference entity names, not ids.
type ExtractedRelation struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	RelationType string  `json:"type"`
	Description  string  `json:"description"`
	Confidence   float64 `json:"confidence"`
}

// ExtractionResult reports one knowledge-extraction run over a CoT item.
type ExtractionResult struct {
	CotItemID  string     `json:"cot_item_id"`
	Skipped    bool       `json:"skipped"`
	SkipReason string     `json:"skip_reason,omitempty"`
	Entities   []Entity   `json:"entities"`
	Relations  []Relation `json:"relations"`
	Warnings   []string   `json:"warnings,omitempty"`
}
