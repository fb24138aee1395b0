package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

var testDBCounter atomic.Int64

func setupTestDB(t *testing.T) (*DBManager, func()) {
	config := NewConfig()
	// Use an in-memory database for testing. Each test gets its own name so
	// state never bleeds across tests; `cache=shared` is crucial for sharing
	// the connection across different calls to `sql.Open` within the process.
	config.URL = fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := NewDBManager(config)
	require.NoError(t, err)

	cleanup := func() {
		err := db.Close()
		assert.NoError(t, err)
	}

	return db, cleanup
}

func seedProject(t *testing.T, db *DBManager) string {
	t.Helper()
	projectID, err := db.CreateProject(context.Background(), "test project", "fixture")
	require.NoError(t, err)
	return projectID
}

func TestCreateAndGetProject(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	projectID := seedProject(t, db)
	name, description, err := db.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, "test project", name)
	assert.Equal(t, "fixture", description)

	_, _, err = db.GetProject(ctx, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestUpdateProjectFields(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	projectID := seedProject(t, db)

	err := db.UpdateProjectFields(ctx, projectID, map[string]string{"name": "renamed"})
	require.NoError(t, err)
	name, _, err := db.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", name)

	err = db.UpdateProjectFields(ctx, projectID, map[string]string{"id": "hax"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestInsertAndSnapshotRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	projectID := seedProject(t, db)

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.InsertFile(ctx, projectID, apptype.FileInfo{
		ID: "file-1", Filename: "doc.pdf", Size: 2048, FileHash: "hash-1", CreatedAt: created,
	}))
	require.NoError(t, db.InsertCotItem(ctx, projectID, apptype.CotExportItem{
		ID:       "item-1",
		Question: "why?",
		Source:   apptype.SourceManual,
		Status:   apptype.StatusDraft,
		CreatedAt: created,
		Candidates: []apptype.Candidate{
			{ID: "cand-1", Text: "because", Score: 0.9, Chosen: true, Rank: 1},
			{ID: "cand-2", Text: "maybe", Score: 0.4, Rank: 2},
		},
	}))

	snap, err := db.ProjectSnapshot(ctx, projectID)
	require.NoError(t, err)
	require.NoError(t, snap.Validate())

	assert.Equal(t, "test project", snap.Metadata.ProjectName)
	assert.Equal(t, 1, snap.Metadata.TotalFiles)
	assert.Equal(t, 1, snap.Metadata.TotalCotItems)
	assert.Equal(t, 2, snap.Metadata.TotalCandidates)
	require.Len(t, snap.FilesInfo, 1)
	assert.Equal(t, "hash-1", snap.FilesInfo[0].FileHash)
	require.Len(t, snap.CotItems, 1)
	require.Len(t, snap.CotItems[0].Candidates, 2)
	// Candidates come back in rank order.
	assert.Equal(t, 1, snap.CotItems[0].Candidates[0].Rank)
	assert.True(t, snap.CotItems[0].Candidates[0].Chosen)
	assert.True(t, snap.CotItems[0].CreatedAt.Equal(created))
}

func TestInsertFileRequiresHash(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	projectID := seedProject(t, db)

	err := db.InsertFile(context.Background(), projectID, apptype.FileInfo{ID: "f", Filename: "x"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestUpdateCotItemAndCandidateFields(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	projectID := seedProject(t, db)

	require.NoError(t, db.InsertCotItem(ctx, projectID, apptype.CotExportItem{
		ID: "item-1", Question: "q", Status: apptype.StatusDraft,
		Candidates: []apptype.Candidate{{ID: "cand-1", Text: "a", Score: 0.5, Rank: 1}},
	}))

	require.NoError(t, db.UpdateCotItemField(ctx, projectID, "item-1", "status", string(apptype.StatusReviewed)))
	require.NoError(t, db.UpdateCandidateField(ctx, "item-1", "cand-1", "score", 0.8))

	item, err := db.CotItem(ctx, projectID, "item-1")
	require.NoError(t, err)
	assert.Equal(t, apptype.StatusReviewed, item.Status)
	require.Len(t, item.Candidates, 1)
	assert.Equal(t, 0.8, item.Candidates[0].Score)

	// Allowlist enforcement and missing rows.
	err = db.UpdateCotItemField(ctx, projectID, "item-1", "created_by", "mallory")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	err = db.UpdateCotItemField(ctx, projectID, "ghost", "status", "draft")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestInsertCandidateAppends(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	projectID := seedProject(t, db)

	require.NoError(t, db.InsertCotItem(ctx, projectID, apptype.CotExportItem{
		ID: "item-1", Question: "q", Status: apptype.StatusDraft,
		Candidates: []apptype.Candidate{{ID: "cand-1", Text: "a", Score: 0.5, Rank: 1}},
	}))
	require.NoError(t, db.InsertCandidate(ctx, "item-1", apptype.Candidate{
		ID: "cand-2", Text: "b", Score: 0.3, Rank: 2,
	}))

	item, err := db.CotItem(ctx, projectID, "item-1")
	require.NoError(t, err)
	assert.Len(t, item.Candidates, 2)
}

func TestUpsertEntityDedupAndMonotonicity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	projectID := seedProject(t, db)

	first, err := db.UpsertEntity(ctx, projectID, apptype.Entity{
		Name: "turbine", EntityType: "object", Description: "spins", Confidence: 0.6,
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	// Lower confidence never lowers the stored value; the row is reused.
	second, err := db.UpsertEntity(ctx, projectID, apptype.Entity{
		Name: "turbine", EntityType: "object", Confidence: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0.6, second.Confidence)

	third, err := db.UpsertEntity(ctx, projectID, apptype.Entity{
		Name: "turbine", EntityType: "object", Description: "rotating machine", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, 0.9, third.Confidence)
	assert.Equal(t, "rotating machine", third.Description)

	entities, err := db.ProjectEntities(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, entities, 1)

	byKey, err := db.GetEntityByKey(ctx, projectID, "turbine", "object")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byKey.ID)
	assert.Equal(t, 0.9, byKey.Confidence)

	_, err = db.GetEntityByKey(ctx, projectID, "turbine", "person")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpsertEntityValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	projectID := seedProject(t, db)

	_, err := db.UpsertEntity(context.Background(), projectID, apptype.Entity{Name: "  "})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestUpsertRelationDedup(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	projectID := seedProject(t, db)

	a, err := db.UpsertEntity(ctx, projectID, apptype.Entity{Name: "a", EntityType: "concept", Confidence: 0.5})
	require.NoError(t, err)
	b, err := db.UpsertEntity(ctx, projectID, apptype.Entity{Name: "b", EntityType: "concept", Confidence: 0.5})
	require.NoError(t, err)

	first, err := db.UpsertRelation(ctx, projectID, apptype.Relation{
		SourceID: a.ID, TargetID: b.ID, RelationType: "causes", Confidence: 0.4,
	})
	require.NoError(t, err)
	second, err := db.UpsertRelation(ctx, projectID, apptype.Relation{
		SourceID: a.ID, TargetID: b.ID, RelationType: "causes", Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0.7, second.Confidence)

	relations, err := db.ProjectRelations(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, relations, 1)
}

func TestUpsertRelationStoresEmbedding(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	projectID := seedProject(t, db)

	a, err := db.UpsertEntity(ctx, projectID, apptype.Entity{Name: "a", EntityType: "concept", Confidence: 0.5})
	require.NoError(t, err)
	b, err := db.UpsertEntity(ctx, projectID, apptype.Entity{Name: "b", EntityType: "concept", Confidence: 0.5})
	require.NoError(t, err)

	vector := []float32{0.1, 0.2, 0.3, 0.4}
	_, err = db.UpsertRelation(ctx, projectID, apptype.Relation{
		SourceID: a.ID, TargetID: b.ID, RelationType: "causes", Confidence: 0.5,
		Embedding: vector,
	})
	require.NoError(t, err)

	relations, err := db.RelationsForEntities(ctx, projectID, []apptype.Entity{a})
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, vector, relations[0].Embedding)
}

func TestRecordExtractionAndReadGraph(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	projectID := seedProject(t, db)

	entity, err := db.UpsertEntity(ctx, projectID, apptype.Entity{Name: "motor", EntityType: "object", Confidence: 0.5})
	require.NoError(t, err)
	require.NoError(t, db.RecordExtraction(ctx, projectID, "item-1", "entity", entity.ID, "llm", "source text"))

	entities, relations, err := db.ReadGraph(ctx, projectID, 10)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Empty(t, relations)
	assert.Equal(t, "motor", entities[0].Name)
}

func TestSearchEntities(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	projectID := seedProject(t, db)

	for i, name := range []string{"wind turbine", "steam turbine", "solar panel"} {
		_, err := db.UpsertEntity(ctx, projectID, apptype.Entity{
			Name: name, EntityType: "object", Confidence: 0.5 + float64(i)*0.1,
		})
		require.NoError(t, err)
	}

	found, err := db.SearchEntities(ctx, projectID, "turbine", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	for _, e := range found {
		assert.True(t, strings.Contains(e.Name, "turbine"))
	}
	// Ordered by confidence, highest first.
	assert.Equal(t, "steam turbine", found[0].Name)
}

func TestProjectScoping(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	projectA := seedProject(t, db)
	projectB, err := db.CreateProject(ctx, "other project", "")
	require.NoError(t, err)

	_, err = db.UpsertEntity(ctx, projectA, apptype.Entity{Name: "shared name", EntityType: "concept", Confidence: 0.5})
	require.NoError(t, err)
	_, err = db.UpsertEntity(ctx, projectB, apptype.Entity{Name: "shared name", EntityType: "concept", Confidence: 0.5})
	require.NoError(t, err)

	aEntities, err := db.ProjectEntities(ctx, projectA)
	require.NoError(t, err)
	bEntities, err := db.ProjectEntities(ctx, projectB)
	require.NoError(t, err)
	assert.Len(t, aEntities, 1)
	assert.Len(t, bEntities, 1)
	assert.NotEqual(t, aEntities[0].ID, bEntities[0].ID)
}
