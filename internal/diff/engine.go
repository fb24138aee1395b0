// Package diff compares project snapshots and emits deterministic,
// ordered difference lists for reconciliation.
package diff

import (
	"fmt"

	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// Diff compares a source snapshot against a target snapshot and returns
// the ordinary differences plus conflicts. A nil target means a fresh
// import: everything in source comes back as a new difference and no
// conflict detection runs.
//
// Differences are emitted in category order (project, file, cot_item,
// candidate) and within a category in source-list order, so repeated runs
// over identical inputs produce byte-identical output.
func Diff(source, target *apptype.Snapshot) ([]apptype.Difference, []apptype.Difference) {
	if target == nil {
		return allNew(source), nil
	}

	var diffs []apptype.Difference
	var conflicts []apptype.Difference

	diffs = append(diffs, diffProject(source, target)...)
	diffs = append(diffs, diffFiles(source, target)...)

	itemDiffs, itemConflicts := diffCotItems(source, target)
	diffs = append(diffs, itemDiffs...)
	conflicts = append(conflicts, itemConflicts...)

	diffs = append(diffs, diffCandidates(source, target)...)
	return diffs, conflicts
}

// allNew emits a new-type difference for every file, item and candidate
// in source. Project metadata carries over wholesale on a fresh import,
// so it gets no difference of its own.
func allNew(source *apptype.Snapshot) []apptype.Difference {
	var diffs []apptype.Difference
	for _, f := range source.FilesInfo {
		diffs = append(diffs, apptype.Difference{
			ID:          apptype.DifferenceID(apptype.CategoryFile, apptype.DiffNew, f.ID, ""),
			Type:        apptype.DiffNew,
			Category:    apptype.CategoryFile,
			EntityID:    f.ID,
			New:         f.Filename,
			Description: fmt.Sprintf("new file %q", f.Filename),
			Severity:    apptype.SeverityNormal,
		})
	}
	for _, item := range source.CotItems {
		diffs = append(diffs, apptype.Difference{
			ID:          apptype.DifferenceID(apptype.CategoryCotItem, apptype.DiffNew, item.ID, ""),
			Type:        apptype.DiffNew,
			Category:    apptype.CategoryCotItem,
			EntityID:    item.ID,
			New:         item.Question,
			Description: fmt.Sprintf("new cot item %s", item.ID),
			Severity:    apptype.SeverityNormal,
		})
		for _, c := range item.Candidates {
			diffs = append(diffs, apptype.Difference{
				ID:          apptype.DifferenceID(apptype.CategoryCandidate, apptype.DiffNew, c.ID, ""),
				Type:        apptype.DiffNew,
				Category:    apptype.CategoryCandidate,
				EntityID:    c.ID,
				New:         c.Text,
				Description: fmt.Sprintf("new candidate %s for item %s", c.ID, item.ID),
				Severity:    apptype.SeverityLow,
			})
		}
	}
	return diffs
}

func diffProject(source, target *apptype.Snapshot) []apptype.Difference {
	var diffs []apptype.Difference
	if source.Metadata.ProjectName != target.Metadata.ProjectName {
		diffs = append(diffs, modifiedField(apptype.CategoryProject, "project", "name",
			target.Metadata.ProjectName, source.Metadata.ProjectName, apptype.SeverityNormal))
	}
	if source.Metadata.ProjectDescription != target.Metadata.ProjectDescription {
		diffs = append(diffs, modifiedField(apptype.CategoryProject, "project", "description",
			target.Metadata.ProjectDescription, source.Metadata.ProjectDescription, apptype.SeverityLow))
	}
	return diffs
}

// diffFiles matches files by content hash. A matched hash means the file
// is identical, so no difference is emitted for it.
func diffFiles(source, target *apptype.Snapshot) []apptype.Difference {
	targetByHash := make(map[string]apptype.FileInfo, len(target.FilesInfo))
	for _, f := range target.FilesInfo {
		targetByHash[f.FileHash] = f
	}
	sourceHashes := make(map[string]bool, len(source.FilesInfo))

	var diffs []apptype.Difference
	for _, f := range source.FilesInfo {
		sourceHashes[f.FileHash] = true
		if _, ok := targetByHash[f.FileHash]; ok {
			continue
		}
		diffs = append(diffs, apptype.Difference{
			ID:          apptype.DifferenceID(apptype.CategoryFile, apptype.DiffNew, f.ID, ""),
			Type:        apptype.DiffNew,
			Category:    apptype.CategoryFile,
			EntityID:    f.ID,
			New:         f.Filename,
			Description: fmt.Sprintf("new file %q", f.Filename),
			Severity:    apptype.SeverityNormal,
		})
	}
	for _, f := range target.FilesInfo {
		if sourceHashes[f.FileHash] {
			continue
		}
		diffs = append(diffs, apptype.Difference{
			ID:          apptype.DifferenceID(apptype.CategoryFile, apptype.DiffDeleted, f.ID, ""),
			Type:        apptype.DiffDeleted,
			Category:    apptype.CategoryFile,
			EntityID:    f.ID,
			Current:     f.Filename,
			Description: fmt.Sprintf("file %q absent from import", f.Filename),
			Severity:    apptype.SeverityNormal,
		})
	}
	return diffs
}

func diffCotItems(source, target *apptype.Snapshot) ([]apptype.Difference, []apptype.Difference) {
	targetByID := make(map[string]apptype.CotExportItem, len(target.CotItems))
	for _, it := range target.CotItems {
		targetByID[it.ID] = it
	}
	sourceIDs := make(map[string]bool, len(source.CotItems))

	var diffs []apptype.Difference
	var conflicts []apptype.Difference
	for _, src := range source.CotItems {
		sourceIDs[src.ID] = true
		tgt, ok := targetByID[src.ID]
		if !ok {
			diffs = append(diffs, apptype.Difference{
				ID:          apptype.DifferenceID(apptype.CategoryCotItem, apptype.DiffNew, src.ID, ""),
				Type:        apptype.DiffNew,
				Category:    apptype.CategoryCotItem,
				EntityID:    src.ID,
				New:         src.Question,
				Description: fmt.Sprintf("new cot item %s", src.ID),
				Severity:    apptype.SeverityNormal,
			})
			continue
		}
		if src.Question != tgt.Question {
			diffs = append(diffs, modifiedField(apptype.CategoryCotItem, src.ID, "question",
				tgt.Question, src.Question, apptype.SeverityNormal))
		}
		if src.ChainOfThought != tgt.ChainOfThought {
			diffs = append(diffs, modifiedField(apptype.CategoryCotItem, src.ID, "chain_of_thought",
				tgt.ChainOfThought, src.ChainOfThought, apptype.SeverityNormal))
		}
		if src.Status != tgt.Status {
			if src.Status.Locked() && tgt.Status.Locked() {
				conflicts = append(conflicts, apptype.Difference{
					ID:       apptype.DifferenceID(apptype.CategoryCotItem, apptype.DiffConflict, src.ID, "status"),
					Type:     apptype.DiffConflict,
					Category: apptype.CategoryCotItem,
					EntityID: src.ID,
					Field:    "status",
					Current:  string(tgt.Status),
					New:      string(src.Status),
					Description: fmt.Sprintf("item %s finalized independently as %s and %s",
						src.ID, tgt.Status, src.Status),
					Severity: apptype.SeverityHigh,
				})
			} else {
				diffs = append(diffs, modifiedField(apptype.CategoryCotItem, src.ID, "status",
					string(tgt.Status), string(src.Status), apptype.SeverityNormal))
			}
		}
	}
	for _, it := range target.CotItems {
		if sourceIDs[it.ID] {
			continue
		}
		diffs = append(diffs, apptype.Difference{
			ID:          apptype.DifferenceID(apptype.CategoryCotItem, apptype.DiffDeleted, it.ID, ""),
			Type:        apptype.DiffDeleted,
			Category:    apptype.CategoryCotItem,
			EntityID:    it.ID,
			Current:     it.Question,
			Description: fmt.Sprintf("cot item %s absent from import", it.ID),
			Severity:    apptype.SeverityNormal,
		})
	}
	return diffs, conflicts
}

// diffCandidates compares candidates inside items present in both
// snapshots. Candidates of new or deleted items are covered by their
// item-level difference.
func diffCandidates(source, target *apptype.Snapshot) []apptype.Difference {
	targetByID := make(map[string]apptype.CotExportItem, len(target.CotItems))
	for _, it := range target.CotItems {
		targetByID[it.ID] = it
	}

	var diffs []apptype.Difference
	for _, src := range source.CotItems {
		tgt, ok := targetByID[src.ID]
		if !ok {
			continue
		}
		tgtCands := make(map[string]apptype.Candidate, len(tgt.Candidates))
		for _, c := range tgt.Candidates {
			tgtCands[c.ID] = c
		}
		srcIDs := make(map[string]bool, len(src.Candidates))
		for _, c := range src.Candidates {
			srcIDs[c.ID] = true
			tc, found := tgtCands[c.ID]
			if !found {
				diffs = append(diffs, apptype.Difference{
					ID:          apptype.DifferenceID(apptype.CategoryCandidate, apptype.DiffNew, c.ID, ""),
					Type:        apptype.DiffNew,
					Category:    apptype.CategoryCandidate,
					EntityID:    c.ID,
					New:         c.Text,
					Description: fmt.Sprintf("new candidate %s for item %s", c.ID, src.ID),
					Severity:    apptype.SeverityLow,
				})
				continue
			}
			if c.Score != tc.Score {
				diffs = append(diffs, modifiedField(apptype.CategoryCandidate, c.ID, "score",
					tc.Score, c.Score, apptype.SeverityLow))
			}
			if c.Chosen != tc.Chosen {
				diffs = append(diffs, modifiedField(apptype.CategoryCandidate, c.ID, "chosen",
					tc.Chosen, c.Chosen, apptype.SeverityNormal))
			}
		}
		for _, c := range tgt.Candidates {
			if srcIDs[c.ID] {
				continue
			}
			diffs = append(diffs, apptype.Difference{
				ID:          apptype.DifferenceID(apptype.CategoryCandidate, apptype.DiffDeleted, c.ID, ""),
				Type:        apptype.DiffDeleted,
				Category:    apptype.CategoryCandidate,
				EntityID:    c.ID,
				Current:     c.Text,
				Description: fmt.Sprintf("candidate %s of item %s absent from import", c.ID, src.ID),
				Severity:    apptype.SeverityLow,
			})
		}
	}
	return diffs
}

func modifiedField(category apptype.DiffCategory, entityID, field string, current, next any, severity apptype.Severity) apptype.Difference {
	return apptype.Difference{
		ID:          apptype.DifferenceID(category, apptype.DiffModified, entityID, field),
		Type:        apptype.DiffModified,
		Category:    category,
		EntityID:    entityID,
		Field:       field,
		Current:     current,
		New:         next,
		Description: fmt.Sprintf("%s %s: %s changed", category, entityID, field),
		Severity:    severity,
	}
}
