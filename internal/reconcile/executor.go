// Package reconcile materializes an imported snapshot into a project,
// either as a fresh project or by merging confirmed differences into an
// existing one.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
	"github.com/cotstudio/cot-studio-go/internal/apptype"
	"github.com/cotstudio/cot-studio-go/internal/diff"
	"github.com/cotstudio/cot-studio-go/internal/metrics"
)

// Store is the persistence surface the executor writes through.
type Store interface {
	CreateProject(ctx context.Context, name, description string) (string, error)
	ProjectSnapshot(ctx context.Context, projectID string) (*apptype.Snapshot, error)
	UpdateProjectFields(ctx context.Context, projectID string, fields map[string]string) error
	InsertFile(ctx context.Context, projectID string, f apptype.FileInfo) error
	InsertCotItem(ctx context.Context, projectID string, item apptype.CotExportItem) error
	InsertCandidate(ctx context.Context, itemID string, c apptype.Candidate) error
	UpdateCotItemField(ctx context.Context, projectID, itemID, field string, value any) error
	UpdateCandidateField(ctx context.Context, itemID, candidateID, field string, value any) error
}

// Request carries one import execution.
type Request struct {
	Source          *apptype.Snapshot
	Mode            apptype.ImportMode
	TargetProjectID string
	ProjectName     string
	Actor           string
	ConfirmedIDs    map[string]bool
	Resolutions     map[string]apptype.Resolution
}

// Executor runs import executions against a Store.
type Executor struct {
	store Store
}

func NewExecutor(store Store) *Executor {
	return &Executor{store: store}
}

// Execute runs one reconciliation. Failures before any write (bad input,
// unknown target project) return an error and persist nothing. Once
// writing starts, per-item failures are collected into the result's error
// list and the remaining items still run; cancellation is observed between
// items, never mid-item.
func (e *Executor) Execute(ctx context.Context, req Request) (*apptype.ImportResult, error) {
	done := metrics.TimeOp("import_execute")
	success := false
	defer func() { done(success) }()

	start := time.Now()

	if req.Source == nil {
		return nil, apperr.Validation("source", "import requires a source snapshot")
	}
	if err := req.Source.Validate(); err != nil {
		return nil, fmt.Errorf("source snapshot rejected: %w", err)
	}

	result := &apptype.ImportResult{Errors: []string{}, Warnings: []string{}}

	var err error
	switch req.Mode {
	case apptype.ImportCreateNew:
		err = e.executeCreateNew(ctx, req, result)
	case apptype.ImportMerge:
		err = e.executeMerge(ctx, req, result)
	default:
		return nil, apperr.Validation("mode", "unsupported import mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	result.ExecutionTime = time.Since(start).Seconds()
	result.Success = len(result.Errors) == 0
	success = result.Success
	return result, nil
}

// executeCreateNew allocates a project shell and imports the whole
// snapshot unconditionally. Confirmed-id filtering does not apply here.
func (e *Executor) executeCreateNew(ctx context.Context, req Request, result *apptype.ImportResult) error {
	name := req.ProjectName
	if name == "" {
		name = req.Source.Metadata.ProjectName
	}
	projectID, err := e.store.CreateProject(ctx, name, req.Source.Metadata.ProjectDescription)
	if err != nil {
		return fmt.Errorf("failed to create project %q: %w", name, err)
	}
	result.ProjectID = projectID

	for _, f := range req.Source.FilesInfo {
		if cancelled(ctx, result) {
			return nil
		}
		if err := e.store.InsertFile(ctx, projectID, f); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("file %s: %v", f.ID, err))
			result.Skipped.Files++
			continue
		}
		result.Imported.Files++
	}

	for _, item := range req.Source.CotItems {
		if cancelled(ctx, result) {
			return nil
		}
		if req.Actor != "" {
			item.CreatedBy = req.Actor
		}
		if err := e.store.InsertCotItem(ctx, projectID, item); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cot item %s: %v", item.ID, err))
			result.Skipped.CotItems++
			result.Skipped.Candidates += len(item.Candidates)
			continue
		}
		result.Imported.CotItems++
		result.Imported.Candidates += len(item.Candidates)
	}
	return nil
}

// executeMerge re-derives the diff against the live target and applies
// confirmed new differences plus resolved modifications and conflicts.
func (e *Executor) executeMerge(ctx context.Context, req Request, result *apptype.ImportResult) error {
	if req.TargetProjectID == "" {
		return apperr.Validation("project_id", "merge import requires a target project")
	}
	target, err := e.store.ProjectSnapshot(ctx, req.TargetProjectID)
	if err != nil {
		return fmt.Errorf("failed to load target project %s: %w", req.TargetProjectID, err)
	}
	result.ProjectID = req.TargetProjectID

	diffs, conflicts := diff.Diff(req.Source, target)
	itemsByID := make(map[string]apptype.CotExportItem, len(req.Source.CotItems))
	candidateHome := make(map[string]string)
	candidatesByID := make(map[string]apptype.Candidate)
	for _, item := range req.Source.CotItems {
		itemsByID[item.ID] = item
		for _, c := range item.Candidates {
			candidateHome[c.ID] = item.ID
			candidatesByID[c.ID] = c
		}
	}
	filesByID := make(map[string]apptype.FileInfo, len(req.Source.FilesInfo))
	for _, f := range req.Source.FilesInfo {
		filesByID[f.ID] = f
	}

	for _, d := range diffs {
		if cancelled(ctx, result) {
			return nil
		}
		switch d.Type {
		case apptype.DiffNew:
			e.applyNew(ctx, req, result, d, filesByID, itemsByID, candidatesByID, candidateHome)
		case apptype.DiffModified:
			e.applyResolved(ctx, req, result, d, candidateHome)
		case apptype.DiffDeleted:
			// Deletions are never materialized; the target keeps its data.
		}
	}
	for _, c := range conflicts {
		if cancelled(ctx, result) {
			return nil
		}
		e.applyResolved(ctx, req, result, c, candidateHome)
	}
	return nil
}

func (e *Executor) applyNew(ctx context.Context, req Request, result *apptype.ImportResult, d apptype.Difference,
	files map[string]apptype.FileInfo, items map[string]apptype.CotExportItem,
	candidates map[string]apptype.Candidate, candidateHome map[string]string) {

	if !req.ConfirmedIDs[d.ID] {
		countSkip(result, d)
		if d.Category == apptype.CategoryCotItem {
			if item, ok := items[d.EntityID]; ok {
				result.Skipped.Candidates += len(item.Candidates)
			}
		}
		return
	}
	switch d.Category {
	case apptype.CategoryFile:
		f, ok := files[d.EntityID]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("file %s: confirmed difference has no source record", d.EntityID))
			return
		}
		if err := e.store.InsertFile(ctx, req.TargetProjectID, f); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("file %s: %v", f.ID, err))
			result.Skipped.Files++
			return
		}
		result.Imported.Files++
	case apptype.CategoryCotItem:
		item, ok := items[d.EntityID]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("cot item %s: confirmed difference has no source record", d.EntityID))
			return
		}
		if req.Actor != "" {
			item.CreatedBy = req.Actor
		}
		if err := e.store.InsertCotItem(ctx, req.TargetProjectID, item); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cot item %s: %v", item.ID, err))
			result.Skipped.CotItems++
			result.Skipped.Candidates += len(item.Candidates)
			return
		}
		result.Imported.CotItems++
		result.Imported.Candidates += len(item.Candidates)
	case apptype.CategoryCandidate:
		c, ok := candidates[d.EntityID]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("candidate %s: confirmed difference has no source record", d.EntityID))
			return
		}
		if err := e.store.InsertCandidate(ctx, candidateHome[c.ID], c); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("candidate %s: %v", c.ID, err))
			result.Skipped.Candidates++
			return
		}
		result.Imported.Candidates++
	}
}

// applyResolved settles one modified difference or conflict through its
// Resolution. A modified difference in the confirmed set takes the incoming
// value even without an explicit resolution; conflicts always require one.
// keep_current and skip leave the target untouched; merge falls back to
// use_new except for status fields, which take the more advanced of the
// two statuses.
func (e *Executor) applyResolved(ctx context.Context, req Request, result *apptype.ImportResult, d apptype.Difference,
	candidateHome map[string]string) {

	res, ok := req.Resolutions[d.ID]
	if !ok && d.Type == apptype.DiffModified && req.ConfirmedIDs[d.ID] {
		res = apptype.Resolution{Action: apptype.ResolveUseNew}
		ok = true
	}
	if !ok || res.Action == apptype.ResolveKeepCurrent || res.Action == apptype.ResolveSkip {
		countSkip(result, d)
		return
	}

	value := d.New
	if res.CustomValue != nil {
		value = res.CustomValue
	}
	if res.Action == apptype.ResolveMerge && d.Field == "status" {
		cur, _ := d.Current.(string)
		next, _ := d.New.(string)
		value = string(apptype.MergeStatus(apptype.ItemStatus(cur), apptype.ItemStatus(next)))
	}

	var err error
	switch d.Category {
	case apptype.CategoryProject:
		str, _ := value.(string)
		err = e.store.UpdateProjectFields(ctx, req.TargetProjectID, map[string]string{d.Field: str})
	case apptype.CategoryCotItem:
		err = e.store.UpdateCotItemField(ctx, req.TargetProjectID, d.EntityID, d.Field, value)
	case apptype.CategoryCandidate:
		err = e.store.UpdateCandidateField(ctx, candidateHome[d.EntityID], d.EntityID, d.Field, value)
	default:
		log.Printf("Warning: resolution %s targets unknown category %s", d.ID, d.Category)
		return
	}
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", d.Category, d.EntityID, err))
		countSkip(result, d)
		return
	}
	countImport(result, d)
}

func cancelled(ctx context.Context, result *apptype.ImportResult) bool {
	if ctx.Err() == nil {
		return false
	}
	result.Errors = append(result.Errors, fmt.Sprintf("import cancelled: %v", ctx.Err()))
	return true
}

func countImport(result *apptype.ImportResult, d apptype.Difference) {
	switch d.Category {
	case apptype.CategoryFile:
		result.Imported.Files++
	case apptype.CategoryCotItem:
		result.Imported.CotItems++
	case apptype.CategoryCandidate:
		result.Imported.Candidates++
	}
}

func countSkip(result *apptype.ImportResult, d apptype.Difference) {
	switch d.Category {
	case apptype.CategoryFile:
		result.Skipped.Files++
	case apptype.CategoryCotItem:
		result.Skipped.CotItems++
	case apptype.CategoryCandidate:
		result.Skipped.Candidates++
	}
}
