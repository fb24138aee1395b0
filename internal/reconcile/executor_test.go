package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// fakeStore keeps projects in memory and records every write in order.
type fakeStore struct {
	projects   map[string]*apptype.Snapshot
	nextID     int
	writeLog   []string
	failInsert map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:   map[string]*apptype.Snapshot{},
		failInsert: map[string]error{},
	}
}

func (s *fakeStore) CreateProject(_ context.Context, name, description string) (string, error) {
	s.nextID++
	id := fmt.Sprintf("proj-%d", s.nextID)
	s.projects[id] = &apptype.Snapshot{
		Metadata: apptype.SnapshotMetadata{ProjectName: name, ProjectDescription: description},
	}
	s.writeLog = append(s.writeLog, "create "+id)
	return id, nil
}

func (s *fakeStore) ProjectSnapshot(_ context.Context, projectID string) (*apptype.Snapshot, error) {
	snap, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, apperr.ErrNotFound)
	}
	return snap, nil
}

func (s *fakeStore) UpdateProjectFields(_ context.Context, projectID string, fields map[string]string) error {
	snap := s.projects[projectID]
	if v, ok := fields["name"]; ok {
		snap.Metadata.ProjectName = v
	}
	if v, ok := fields["description"]; ok {
		snap.Metadata.ProjectDescription = v
	}
	s.writeLog = append(s.writeLog, "update project "+projectID)
	return nil
}

func (s *fakeStore) InsertFile(_ context.Context, projectID string, f apptype.FileInfo) error {
	if err := s.failInsert[f.ID]; err != nil {
		return err
	}
	snap := s.projects[projectID]
	snap.FilesInfo = append(snap.FilesInfo, f)
	s.writeLog = append(s.writeLog, "insert file "+f.ID)
	return nil
}

func (s *fakeStore) InsertCotItem(_ context.Context, projectID string, item apptype.CotExportItem) error {
	if err := s.failInsert[item.ID]; err != nil {
		return err
	}
	snap := s.projects[projectID]
	snap.CotItems = append(snap.CotItems, item)
	s.writeLog = append(s.writeLog, "insert item "+item.ID)
	return nil
}

func (s *fakeStore) InsertCandidate(_ context.Context, itemID string, c apptype.Candidate) error {
	for _, snap := range s.projects {
		for i := range snap.CotItems {
			if snap.CotItems[i].ID == itemID {
				snap.CotItems[i].Candidates = append(snap.CotItems[i].Candidates, c)
				s.writeLog = append(s.writeLog, "insert candidate "+c.ID)
				return nil
			}
		}
	}
	return fmt.Errorf("cot item %s: %w", itemID, apperr.ErrNotFound)
}

func (s *fakeStore) UpdateCotItemField(_ context.Context, projectID, itemID, field string, value any) error {
	snap := s.projects[projectID]
	for i := range snap.CotItems {
		if snap.CotItems[i].ID != itemID {
			continue
		}
		switch field {
		case "question":
			snap.CotItems[i].Question = value.(string)
		case "chain_of_thought":
			snap.CotItems[i].ChainOfThought = value.(string)
		case "status":
			snap.CotItems[i].Status = apptype.ItemStatus(value.(string))
		}
		s.writeLog = append(s.writeLog, fmt.Sprintf("update item %s %s", itemID, field))
		return nil
	}
	return fmt.Errorf("cot item %s: %w", itemID, apperr.ErrNotFound)
}

func (s *fakeStore) UpdateCandidateField(_ context.Context, itemID, candidateID, field string, value any) error {
	for _, snap := range s.projects {
		for i := range snap.CotItems {
			if snap.CotItems[i].ID != itemID {
				continue
			}
			for j := range snap.CotItems[i].Candidates {
				if snap.CotItems[i].Candidates[j].ID != candidateID {
					continue
				}
				switch field {
				case "score":
					snap.CotItems[i].Candidates[j].Score = value.(float64)
				case "chosen":
					snap.CotItems[i].Candidates[j].Chosen = value.(bool)
				}
				s.writeLog = append(s.writeLog, "update candidate "+candidateID)
				return nil
			}
		}
	}
	return fmt.Errorf("candidate %s: %w", candidateID, apperr.ErrNotFound)
}

func importSource() *apptype.Snapshot {
	return &apptype.Snapshot{
		Metadata: apptype.SnapshotMetadata{ProjectName: "imported", TotalCotItems: 1},
		CotItems: []apptype.CotExportItem{
			{
				ID:       "item-1",
				Question: "what holds the arch up?",
				Status:   apptype.StatusDraft,
				Candidates: []apptype.Candidate{
					{ID: "cand-1", Text: "compression", Score: 0.9, Chosen: true, Rank: 1},
					{ID: "cand-2", Text: "mortar", Score: 0.2, Rank: 2},
				},
			},
		},
	}
}

func TestExecuteCreateNewImportsWholeSnapshot(t *testing.T) {
	store := newFakeStore()
	exec := NewExecutor(store)

	result, err := exec.Execute(context.Background(), Request{
		Source: importSource(),
		Mode:   apptype.ImportCreateNew,
		Actor:  "importer",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Imported.CotItems)
	assert.Equal(t, 2, result.Imported.Candidates)
	assert.NotEmpty(t, result.ProjectID)
	assert.GreaterOrEqual(t, result.ExecutionTime, 0.0)

	created := store.projects[result.ProjectID]
	require.NotNil(t, created)
	assert.Equal(t, "imported", created.Metadata.ProjectName)
	require.Len(t, created.CotItems, 1)
	assert.Len(t, created.CotItems[0].Candidates, 2)
	assert.Equal(t, "importer", created.CotItems[0].CreatedBy)
}

func TestExecuteCreateNewHonorsNameOverride(t *testing.T) {
	store := newFakeStore()
	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source:      importSource(),
		Mode:        apptype.ImportCreateNew,
		ProjectName: "override",
	})
	require.NoError(t, err)
	assert.Equal(t, "override", store.projects[result.ProjectID].Metadata.ProjectName)
}

func TestExecuteMergeModifiedStatusConfirmedByResolution(t *testing.T) {
	store := newFakeStore()
	targetID, err := store.CreateProject(context.Background(), "imported", "")
	require.NoError(t, err)
	target := importSource()
	store.projects[targetID].CotItems = target.CotItems
	// Target is draft; source advances it to reviewed. Draft is not
	// locked, so this is a plain modification.
	source := importSource()
	source.CotItems[0].Status = apptype.StatusReviewed

	diffID := "cot_item_modified_item-1_status"
	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source:          source,
		Mode:            apptype.ImportMerge,
		TargetProjectID: targetID,
		Resolutions: map[string]apptype.Resolution{
			diffID: {DifferenceID: diffID, Action: apptype.ResolveUseNew},
		},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Imported.CotItems)
	assert.Equal(t, apptype.StatusReviewed, store.projects[targetID].CotItems[0].Status)
}

func TestExecuteMergeModifiedStatusConfirmedWithoutResolution(t *testing.T) {
	store := newFakeStore()
	targetID, err := store.CreateProject(context.Background(), "imported", "")
	require.NoError(t, err)
	target := importSource()
	store.projects[targetID].CotItems = target.CotItems

	source := importSource()
	source.CotItems[0].Status = apptype.StatusReviewed

	// Confirming a plain modification without a resolution takes the
	// incoming value.
	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source:          source,
		Mode:            apptype.ImportMerge,
		TargetProjectID: targetID,
		ConfirmedIDs:    map[string]bool{"cot_item_modified_item-1_status": true},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Imported.CotItems)
	assert.Equal(t, 0, result.Skipped.CotItems)
	assert.Equal(t, apptype.StatusReviewed, store.projects[targetID].CotItems[0].Status)
}

func TestExecuteMergeConfirmedConflictStillNeedsResolution(t *testing.T) {
	store := newFakeStore()
	targetID, err := store.CreateProject(context.Background(), "imported", "")
	require.NoError(t, err)
	target := importSource()
	target.CotItems[0].Status = apptype.StatusApproved
	store.projects[targetID].CotItems = target.CotItems

	source := importSource()
	source.CotItems[0].Status = apptype.StatusReviewed

	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source:          source,
		Mode:            apptype.ImportMerge,
		TargetProjectID: targetID,
		ConfirmedIDs:    map[string]bool{"cot_item_conflict_item-1_status": true},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped.CotItems)
	assert.Equal(t, apptype.StatusApproved, store.projects[targetID].CotItems[0].Status)
}

func TestExecuteMergeStampsActorOnNewItems(t *testing.T) {
	store := newFakeStore()
	targetID, err := store.CreateProject(context.Background(), "imported", "")
	require.NoError(t, err)

	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source:          importSource(),
		Mode:            apptype.ImportMerge,
		TargetProjectID: targetID,
		Actor:           "reviewer",
		ConfirmedIDs:    map[string]bool{"cot_item_new_item-1": true},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported.CotItems)
	require.Len(t, store.projects[targetID].CotItems, 1)
	assert.Equal(t, "reviewer", store.projects[targetID].CotItems[0].CreatedBy)
}

func TestExecuteMergeConflictWithoutResolutionIsSkipped(t *testing.T) {
	store := newFakeStore()
	targetID, err := store.CreateProject(context.Background(), "imported", "")
	require.NoError(t, err)
	target := importSource()
	target.CotItems[0].Status = apptype.StatusApproved
	store.projects[targetID].CotItems = target.CotItems

	source := importSource()
	source.CotItems[0].Status = apptype.StatusReviewed

	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source:          source,
		Mode:            apptype.ImportMerge,
		TargetProjectID: targetID,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Imported.CotItems)
	assert.Equal(t, 1, result.Skipped.CotItems)
	assert.Equal(t, apptype.StatusApproved, store.projects[targetID].CotItems[0].Status)
}

func TestExecuteMergeStatusRankMerge(t *testing.T) {
	store := newFakeStore()
	targetID, err := store.CreateProject(context.Background(), "imported", "")
	require.NoError(t, err)
	target := importSource()
	target.CotItems[0].Status = apptype.StatusApproved
	store.projects[targetID].CotItems = target.CotItems

	source := importSource()
	source.CotItems[0].Status = apptype.StatusReviewed

	conflictID := "cot_item_conflict_item-1_status"
	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source:          source,
		Mode:            apptype.ImportMerge,
		TargetProjectID: targetID,
		Resolutions: map[string]apptype.Resolution{
			conflictID: {DifferenceID: conflictID, Action: apptype.ResolveMerge},
		},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	// approved outranks reviewed, the merge keeps the target value.
	assert.Equal(t, apptype.StatusApproved, store.projects[targetID].CotItems[0].Status)
}

func TestExecuteMergeNewItemsRequireConfirmation(t *testing.T) {
	store := newFakeStore()
	targetID, err := store.CreateProject(context.Background(), "imported", "")
	require.NoError(t, err)

	source := importSource()
	source.Metadata.TotalCotItems = 2
	source.CotItems = append(source.CotItems, apptype.CotExportItem{
		ID:       "item-2",
		Question: "why does steel fatigue?",
		Status:   apptype.StatusDraft,
		Candidates: []apptype.Candidate{
			{ID: "cand-3", Text: "cyclic stress", Score: 0.7, Chosen: true, Rank: 1},
		},
	})

	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source:          source,
		Mode:            apptype.ImportMerge,
		TargetProjectID: targetID,
		ConfirmedIDs:    map[string]bool{"cot_item_new_item-2": true},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Imported.CotItems)
	assert.Equal(t, 1, result.Imported.Candidates)
	// item-1 was unconfirmed: counted skipped with its candidates.
	assert.Equal(t, 1, result.Skipped.CotItems)
	require.Len(t, store.projects[targetID].CotItems, 1)
	assert.Equal(t, "item-2", store.projects[targetID].CotItems[0].ID)
}

func TestExecuteMergeUnknownTargetAbortsBeforeWrites(t *testing.T) {
	store := newFakeStore()
	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source:          importSource(),
		Mode:            apptype.ImportMerge,
		TargetProjectID: "missing",
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Empty(t, store.writeLog)
}

func TestExecutePartialFailureContinues(t *testing.T) {
	store := newFakeStore()
	store.failInsert["item-1"] = errors.New("malformed candidate payload")

	source := importSource()
	source.Metadata.TotalCotItems = 2
	source.CotItems = append(source.CotItems, apptype.CotExportItem{
		ID:       "item-2",
		Question: "second",
		Status:   apptype.StatusDraft,
		Candidates: []apptype.Candidate{
			{ID: "cand-3", Text: "x", Score: 0.5, Rank: 1},
		},
	})

	result, err := NewExecutor(store).Execute(context.Background(), Request{
		Source: source,
		Mode:   apptype.ImportCreateNew,
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "item-1")
	assert.Equal(t, 1, result.Imported.CotItems)
	assert.Equal(t, 1, result.Skipped.CotItems)
	assert.Equal(t, 2, result.Skipped.Candidates)
}

func TestExecuteRejectsInvalidInput(t *testing.T) {
	exec := NewExecutor(newFakeStore())

	_, err := exec.Execute(context.Background(), Request{Mode: apptype.ImportCreateNew})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	bad := importSource()
	bad.Metadata.TotalCotItems = 9
	_, err = exec.Execute(context.Background(), Request{Source: bad, Mode: apptype.ImportCreateNew})
	require.Error(t, err)

	_, err = exec.Execute(context.Background(), Request{Source: importSource(), Mode: "replace"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestExecuteObservesCancellationBetweenItems(t *testing.T) {
	store := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewExecutor(store).Execute(ctx, Request{
		Source: importSource(),
		Mode:   apptype.ImportCreateNew,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "cancelled")
	assert.Equal(t, 0, result.Imported.CotItems)
}
