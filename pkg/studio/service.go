// Package studio provides a library-first API for project export/import,
// reconciliation and knowledge extraction without MCP transport.
package studio

import (
	"context"
	"fmt"

	"github.com/cotstudio/cot-studio-go/internal/apptype"
	"github.com/cotstudio/cot-studio-go/internal/database"
	"github.com/cotstudio/cot-studio-go/internal/diff"
	"github.com/cotstudio/cot-studio-go/internal/extraction"
	"github.com/cotstudio/cot-studio-go/internal/reconcile"
	"github.com/cotstudio/cot-studio-go/internal/snapshot"
)

// Service bundles the reconciliation core behind a stable embeddable API.
type Service struct {
	db       *database.DBManager
	executor *reconcile.Executor
	pipeline *extraction.Pipeline
}

// NewService constructs a Service with the provided config. No completion
// service is wired; use NewServiceWithCompleter for extraction support.
func NewService(cfg *Config) (*Service, error) {
	return NewServiceWithCompleter(cfg, nil)
}

// NewServiceWithCompleter constructs a Service with an optional completion
// service for knowledge extraction.
func NewServiceWithCompleter(cfg *Config, completer extraction.Completer) (*Service, error) {
	dm, err := database.NewDBManager(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	svc := &Service{db: dm, executor: reconcile.NewExecutor(dm)}
	if completer != nil {
		pipeline, err := extraction.NewPipeline(dm, extraction.Config{Completer: completer})
		if err != nil {
			dm.Close()
			return nil, err
		}
		svc.pipeline = pipeline
	}
	return svc, nil
}

// Close releases resources.
func (s *Service) Close() error { return s.db.Close() }

// CreateProject allocates an empty project and returns its id.
func (s *Service) CreateProject(ctx context.Context, name, description string) (string, error) {
	return s.db.CreateProject(ctx, name, description)
}

// Snapshot assembles the current state of a project.
func (s *Service) Snapshot(ctx context.Context, projectID string) (*apptype.Snapshot, error) {
	return s.db.ProjectSnapshot(ctx, projectID)
}

// Export serializes a project in the named format.
func (s *Service) Export(ctx context.Context, projectID, formatToken string, includeKG bool) ([]byte, error) {
	format, err := snapshot.ParseFormat(formatToken)
	if err != nil {
		return nil, err
	}
	snap, err := s.db.ProjectSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if includeKG {
		entities, err := s.db.ProjectEntities(ctx, projectID)
		if err != nil {
			return nil, err
		}
		relations, err := s.db.ProjectRelations(ctx, projectID)
		if err != nil {
			return nil, err
		}
		snap.KGData = &apptype.KGData{Entities: entities, Relations: relations}
	}
	return snapshot.Serialize(snap, format)
}

// Analyze diffs an uploaded document against a target project. An empty
// targetProjectID means a new-project import: everything comes back new.
func (s *Service) Analyze(ctx context.Context, document []byte, targetProjectID string) (*apptype.AnalyzeResult, error) {
	source, warnings, err := snapshot.Deserialize(document)
	if err != nil {
		return nil, err
	}
	var target *apptype.Snapshot
	if targetProjectID != "" {
		target, err = s.db.ProjectSnapshot(ctx, targetProjectID)
		if err != nil {
			return nil, err
		}
	}
	differences, conflicts := diff.Diff(source, target)
	return &apptype.AnalyzeResult{
		Differences: differences,
		Conflicts:   conflicts,
		Warnings:    warnings,
	}, nil
}

// Execute runs a reconciliation over a parsed snapshot.
func (s *Service) Execute(ctx context.Context, req reconcile.Request) (*apptype.ImportResult, error) {
	return s.executor.Execute(ctx, req)
}

// Extract mines entities and relations from one CoT item.
func (s *Service) Extract(ctx context.Context, projectID, cotItemID string) (*apptype.ExtractionResult, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("no completion service configured, knowledge extraction is unavailable")
	}
	return s.pipeline.Extract(ctx, projectID, cotItemID)
}

// SearchText performs text search over stored entities.
func (s *Service) SearchText(ctx context.Context, projectID, query string, limit int) ([]apptype.Entity, error) {
	return s.db.SearchEntities(ctx, projectID, query, limit)
}

// SearchVector performs similarity search over entity embeddings.
func (s *Service) SearchVector(ctx context.Context, projectID string, vector []float32, limit int) ([]apptype.Entity, error) {
	return s.db.SearchSimilar(ctx, projectID, vector, limit)
}

// ReadGraph returns recent entities + relations with limit.
func (s *Service) ReadGraph(ctx context.Context, projectID string, limit int) ([]apptype.Entity, []apptype.Relation, error) {
	return s.db.ReadGraph(ctx, projectID, limit)
}
