package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
	"github.com/cotstudio/cot-studio-go/internal/apptype"
	"github.com/cotstudio/cot-studio-go/internal/metrics"
)

// Timestamps are stored as RFC3339 text written by this layer, so reads
// parse them back without driver-specific DATETIME handling.
const timeLayout = time.RFC3339Nano

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// CreateProject allocates a new project shell and returns its id.
func (dm *DBManager) CreateProject(ctx context.Context, name, description string) (string, error) {
	done := metrics.TimeOp("db_create_project")
	success := false
	defer func() { done(success) }()

	if name == "" {
		return "", apperr.Validation("name", "project name cannot be empty")
	}
	id := uuid.NewString()
	_, err := dm.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, description, created_at) VALUES (?, ?, ?, ?)",
		id, name, description, formatTimestamp(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to create project %q: %w", name, err)
	}
	success = true
	return id, nil
}

// GetProject fetches a project's name and description.
func (dm *DBManager) GetProject(ctx context.Context, projectID string) (name, description string, err error) {
	row := dm.db.QueryRowContext(ctx,
		"SELECT name, description FROM projects WHERE id = ?", projectID)
	if err := row.Scan(&name, &description); err != nil {
		if err == sql.ErrNoRows {
			return "", "", fmt.Errorf("project %s: %w", projectID, apperr.ErrNotFound)
		}
		return "", "", fmt.Errorf("failed to scan project: %w", err)
	}
	return name, description, nil
}

// UpdateProjectFields updates project name and/or description.
func (dm *DBManager) UpdateProjectFields(ctx context.Context, projectID string, fields map[string]string) error {
	for field, value := range fields {
		switch field {
		case "name", "description":
		default:
			return apperr.Validation("field", "project field %q is not updatable", field)
		}
		if _, err := dm.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE projects SET %s = ? WHERE id = ?", field), value, projectID); err != nil {
			return fmt.Errorf("failed to update project %s: %w", field, err)
		}
	}
	return nil
}

// ProjectSnapshot assembles the full exportable state of a project: metadata
// with counts, CoT items in creation order with rank-ordered candidates, and
// the file manifest. The knowledge-graph payload is attached separately.
func (dm *DBManager) ProjectSnapshot(ctx context.Context, projectID string) (*apptype.Snapshot, error) {
	done := metrics.TimeOp("db_project_snapshot")
	success := false
	defer func() { done(success) }()

	name, description, err := dm.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	files, err := dm.projectFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items, err := dm.projectCotItems(ctx, projectID)
	if err != nil {
		return nil, err
	}

	totalCandidates := 0
	for _, it := range items {
		totalCandidates += len(it.Candidates)
	}

	snap := &apptype.Snapshot{
		Metadata: apptype.SnapshotMetadata{
			ProjectName:        name,
			ProjectDescription: description,
			ExportTimestamp:    time.Now().UTC(),
			TotalFiles:         len(files),
			TotalCotItems:      len(items),
			TotalCandidates:    totalCandidates,
		},
		CotItems:  items,
		FilesInfo: files,
	}
	success = true
	return snap, nil
}

func (dm *DBManager) projectFiles(ctx context.Context, projectID string) ([]apptype.FileInfo, error) {
	stmt, err := dm.getPreparedStmt(ctx,
		"SELECT id, filename, size, mime_type, file_hash, ocr_status, created_at FROM files WHERE project_id = ? ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []apptype.FileInfo{}
	for rows.Next() {
		var f apptype.FileInfo
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Filename, &f.Size, &f.MimeType, &f.FileHash, &f.OCRStatus, &createdAt); err != nil {
			log.Printf("Warning: Failed to scan file row: %v", err)
			continue
		}
		f.CreatedAt = parseTimestamp(createdAt)
		files = append(files, f)
	}
	return files, rows.Err()
}

func (dm *DBManager) projectCotItems(ctx context.Context, projectID string) ([]apptype.CotExportItem, error) {
	stmt, err := dm.getPreparedStmt(ctx,
		`SELECT id, question, chain_of_thought, source, status, created_by, created_at, slice_content, slice_type, file_name
		 FROM cot_items WHERE project_id = ? ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cot items: %w", err)
	}
	defer rows.Close()

	items := []apptype.CotExportItem{}
	for rows.Next() {
		var it apptype.CotExportItem
		var createdAt string
		if err := rows.Scan(&it.ID, &it.Question, &it.ChainOfThought, &it.Source, &it.Status,
			&it.CreatedBy, &createdAt, &it.SliceContent, &it.SliceType, &it.FileName); err != nil {
			log.Printf("Warning: Failed to scan cot item row: %v", err)
			continue
		}
		it.CreatedAt = parseTimestamp(createdAt)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		candidates, err := dm.itemCandidates(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Candidates = candidates
	}
	return items, nil
}

func (dm *DBManager) itemCandidates(ctx context.Context, itemID string) ([]apptype.Candidate, error) {
	stmt, err := dm.getPreparedStmt(ctx,
		"SELECT id, text, chain_of_thought, score, chosen, rank FROM candidates WHERE cot_item_id = ? ORDER BY rank")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	candidates := []apptype.Candidate{}
	for rows.Next() {
		var c apptype.Candidate
		if err := rows.Scan(&c.ID, &c.Text, &c.ChainOfThought, &c.Score, &c.Chosen, &c.Rank); err != nil {
			log.Printf("Warning: Failed to scan candidate row: %v", err)
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// CotItem fetches a single item and its candidates.
func (dm *DBManager) CotItem(ctx context.Context, projectID, itemID string) (*apptype.CotExportItem, error) {
	row := dm.db.QueryRowContext(ctx,
		`SELECT id, question, chain_of_thought, source, status, created_by, created_at, slice_content, slice_type, file_name
		 FROM cot_items WHERE project_id = ? AND id = ?`, projectID, itemID)

	var it apptype.CotExportItem
	var createdAt string
	if err := row.Scan(&it.ID, &it.Question, &it.ChainOfThought, &it.Source, &it.Status,
		&it.CreatedBy, &createdAt, &it.SliceContent, &it.SliceType, &it.FileName); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("cot item %s: %w", itemID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan cot item: %w", err)
	}
	it.CreatedAt = parseTimestamp(createdAt)

	candidates, err := dm.itemCandidates(ctx, it.ID)
	if err != nil {
		return nil, err
	}
	it.Candidates = candidates
	return &it, nil
}

// InsertFile records a file manifest entry. A missing id is allocated.
func (dm *DBManager) InsertFile(ctx context.Context, projectID string, f apptype.FileInfo) error {
	done := metrics.TimeOp("db_insert_file")
	success := false
	defer func() { done(success) }()

	if f.FileHash == "" {
		return apperr.Validation("file_hash", "file %q has no content hash", f.Filename)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := dm.db.ExecContext(ctx,
		"INSERT INTO files (id, project_id, filename, size, mime_type, file_hash, ocr_status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		f.ID, projectID, f.Filename, f.Size, f.MimeType, f.FileHash, f.OCRStatus, formatTimestamp(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert file %q: %w", f.Filename, err)
	}
	success = true
	return nil
}

// InsertCotItem writes one item and its candidates in a single transaction.
// Missing ids are allocated; the item either lands whole or not at all.
func (dm *DBManager) InsertCotItem(ctx context.Context, projectID string, item apptype.CotExportItem) error {
	done := metrics.TimeOp("db_insert_cot_item")
	success := false
	defer func() { done(success) }()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for item %q: %w", item.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cot_items (id, project_id, question, chain_of_thought, source, status, created_by, created_at, slice_content, slice_type, file_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, projectID, item.Question, item.ChainOfThought, string(item.Source), string(item.Status),
		item.CreatedBy, formatTimestamp(item.CreatedAt), item.SliceContent, item.SliceType, item.FileName)
	if err != nil {
		return fmt.Errorf("failed to insert cot item %q: %w", item.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO candidates (id, cot_item_id, text, chain_of_thought, score, chosen, rank) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare candidate insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range item.Candidates {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, item.ID, c.Text, c.ChainOfThought, c.Score, c.Chosen, c.Rank); err != nil {
			return fmt.Errorf("failed to insert candidate rank %d for item %q: %w", c.Rank, item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// InsertCandidate appends one candidate to an existing item.
func (dm *DBManager) InsertCandidate(ctx context.Context, itemID string, c apptype.Candidate) error {
	done := metrics.TimeOp("db_insert_candidate")
	success := false
	defer func() { done(success) }()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := dm.db.ExecContext(ctx,
		"INSERT INTO candidates (id, cot_item_id, text, chain_of_thought, score, chosen, rank) VALUES (?, ?, ?, ?, ?, ?, ?)",
		c.ID, itemID, c.Text, c.ChainOfThought, c.Score, c.Chosen, c.Rank)
	if err != nil {
		return fmt.Errorf("failed to insert candidate %q for item %q: %w", c.ID, itemID, err)
	}
	success = true
	return nil
}

// cot item columns the executor is allowed to touch
var cotItemFields = map[string]bool{"question": true, "chain_of_thought": true, "status": true}

// UpdateCotItemField updates a single reconcilable field of an item.
func (dm *DBManager) UpdateCotItemField(ctx context.Context, projectID, itemID, field string, value any) error {
	done := metrics.TimeOp("db_update_cot_item")
	success := false
	defer func() { done(success) }()

	if !cotItemFields[field] {
		return apperr.Validation("field", "cot item field %q is not updatable", field)
	}
	res, err := dm.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE cot_items SET %s = ? WHERE project_id = ? AND id = ?", field),
		value, projectID, itemID)
	if err != nil {
		return fmt.Errorf("failed to update item %q field %s: %w", itemID, field, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cot item %s: %w", itemID, apperr.ErrNotFound)
	}
	success = true
	return nil
}

var candidateFields = map[string]bool{"score": true, "chosen": true}

// UpdateCandidateField updates a single reconcilable field of a candidate.
func (dm *DBManager) UpdateCandidateField(ctx context.Context, itemID, candidateID, field string, value any) error {
	done := metrics.TimeOp("db_update_candidate")
	success := false
	defer func() { done(success) }()

	if !candidateFields[field] {
		return apperr.Validation("field", "candidate field %q is not updatable", field)
	}
	res, err := dm.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE candidates SET %s = ? WHERE cot_item_id = ? AND id = ?", field),
		value, itemID, candidateID)
	if err != nil {
		return fmt.Errorf("failed to update candidate %q field %s: %w", candidateID, field, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("candidate %s: %w", candidateID, apperr.ErrNotFound)
	}
	success = true
	return nil
}
