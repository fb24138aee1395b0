package extraction

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cotstudio/cot-studio-go/internal/apptype"
	"github.com/cotstudio/cot-studio-go/internal/metrics"
)

// SkipNoChosenCandidate is the skip reason reported when an item has no
// chosen candidate to extract from.
const SkipNoChosenCandidate = "no_chosen_candidate"

const extractionMethod = "llm"

// Store is the persistence surface the pipeline reads items from and
// writes graph records through.
type Store interface {
	CotItem(ctx context.Context, projectID, itemID string) (*apptype.CotExportItem, error)
	UpsertEntity(ctx context.Context, projectID string, entity apptype.Entity) (apptype.Entity, error)
	UpsertRelation(ctx context.Context, projectID string, relation apptype.Relation) (apptype.Relation, error)
	RecordExtraction(ctx context.Context, projectID, cotItemID, targetKind, targetID, method, sourceText string) error
}

// Config carries the pipeline's injected collaborators and prompt knobs.
// Collaborators are resolved once at startup, never looked up through
// process-global registries.
type Config struct {
	Completer   Completer
	Mirror      GraphMirror
	Temperature float32
	MaxTokens   int
}

// Pipeline extracts entities and relations from one CoT item at a time.
type Pipeline struct {
	store       Store
	completer   Completer
	mirror      GraphMirror
	temperature float32
	maxTokens   int
}

// NewPipeline wires a pipeline. The completer is required; the mirror
// defaults to LogMirror when absent.
func NewPipeline(store Store, cfg Config) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("extraction pipeline requires a store")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("extraction pipeline requires a completion service")
	}
	mirror := cfg.Mirror
	if mirror == nil {
		mirror = LogMirror{}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Pipeline{
		store:       store,
		completer:   cfg.Completer,
		mirror:      mirror,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Extract runs the full pipeline for one item: entity prompt, relation
// prompt when at least two entities survived validation, then persistence
// with natural-key dedup and provenance records. An item without a chosen
// candidate yields a skip result, not an error. Malformed completion
// output degrades to an empty entity list with a warning.
func (p *Pipeline) Extract(ctx context.Context, projectID, cotItemID string) (*apptype.ExtractionResult, error) {
	done := metrics.TimeOp("extract_knowledge")
	success := false
	defer func() { done(success) }()

	item, err := p.store.CotItem(ctx, projectID, cotItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cot item %s: %w", cotItemID, err)
	}

	result := &apptype.ExtractionResult{
		CotItemID: cotItemID,
		Entities:  []apptype.Entity{},
		Relations: []apptype.Relation{},
	}

	chosen := item.ChosenCandidate()
	if chosen == nil {
		result.Skipped = true
		result.SkipReason = SkipNoChosenCandidate
		success = true
		return result, nil
	}

	reasoning := chosen.ChainOfThought
	if reasoning == "" {
		reasoning = item.ChainOfThought
	}
	sourceText := sourceContext(item.Question, chosen.Text, reasoning)

	extracted := p.extractEntities(ctx, item.Question, chosen.Text, reasoning, result)
	if len(extracted) == 0 {
		success = true
		return result, nil
	}

	storedByName := p.persistEntities(ctx, projectID, cotItemID, sourceText, extracted, result)

	if len(storedByName) >= 2 {
		names := make([]string, 0, len(extracted))
		known := make(map[string]bool, len(extracted))
		for _, e := range extracted {
			if _, ok := storedByName[e.Name]; ok && !known[e.Name] {
				known[e.Name] = true
				names = append(names, e.Name)
			}
		}
		relations := p.extractRelations(ctx, names, known, sourceText, result)
		p.persistRelations(ctx, projectID, cotItemID, sourceText, relations, storedByName, result)
	}

	success = true
	return result, nil
}

func sourceContext(question, answer, reasoning string) string {
	parts := []string{"Question: " + question, "Answer: " + answer}
	if reasoning != "" {
		parts = append(parts, "Reasoning: "+reasoning)
	}
	return strings.Join(parts, "\n")
}

func (p *Pipeline) extractEntities(ctx context.Context, question, answer, reasoning string, result *apptype.ExtractionResult) []apptype.ExtractedEntity {
	prompt, err := renderEntityPrompt(question, answer, reasoning)
	if err != nil {
		result.Warnings = append(result.Warnings, err.Error())
		return nil
	}
	response, err := p.completer.Complete(ctx, prompt, p.temperature, p.maxTokens)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("entity extraction call failed: %v", err))
		return nil
	}

	var raw []apptype.ExtractedEntity
	if !parseJSONArray(response, &raw) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("entity response from %s is not a JSON array, extracted nothing", p.completer.Name()))
		return nil
	}
	return sanitizeEntities(raw)
}

func (p *Pipeline) extractRelations(ctx context.Context, names []string, known map[string]bool, sourceText string, result *apptype.ExtractionResult) []apptype.ExtractedRelation {
	prompt, err := renderRelationPrompt(names, sourceText)
	if err != nil {
		result.Warnings = append(result.Warnings, err.Error())
		return nil
	}
	response, err := p.completer.Complete(ctx, prompt, p.temperature, p.maxTokens)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("relation extraction call failed: %v", err))
		return nil
	}

	var raw []apptype.ExtractedRelation
	if !parseJSONArray(response, &raw) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("relation response from %s is not a JSON array, extracted nothing", p.completer.Name()))
		return nil
	}
	// Relations naming entities outside the validated set are dropped
	// without erroring the batch.
	return sanitizeRelations(raw, known)
}

func (p *Pipeline) persistEntities(ctx context.Context, projectID, cotItemID, sourceText string, extracted []apptype.ExtractedEntity, result *apptype.ExtractionResult) map[string]apptype.Entity {
	storedByName := make(map[string]apptype.Entity, len(extracted))
	for _, e := range extracted {
		stored, err := p.store.UpsertEntity(ctx, projectID, apptype.Entity{
			Name:        e.Name,
			EntityType:  e.EntityType,
			Description: e.Description,
			Confidence:  e.Confidence,
		})
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("failed to store entity %q: %v", e.Name, err))
			continue
		}
		storedByName[e.Name] = stored
		result.Entities = append(result.Entities, stored)

		if err := p.store.RecordExtraction(ctx, projectID, cotItemID, "entity", stored.ID, extractionMethod, sourceText); err != nil {
			log.Printf("Warning: %v", err)
		}
		if err := p.mirror.UpsertNode(ctx, projectID, stored); err != nil {
			log.Printf("Warning: graph mirror rejected node %q: %v", stored.Name, err)
		}
	}
	return storedByName
}

func (p *Pipeline) persistRelations(ctx context.Context, projectID, cotItemID, sourceText string, relations []apptype.ExtractedRelation, storedByName map[string]apptype.Entity, result *apptype.ExtractionResult) {
	for _, r := range relations {
		source, sourceOK := storedByName[r.Source]
		target, targetOK := storedByName[r.Target]
		if !sourceOK || !targetOK {
			continue
		}
		stored, err := p.store.UpsertRelation(ctx, projectID, apptype.Relation{
			SourceID:     source.ID,
			TargetID:     target.ID,
			RelationType: r.RelationType,
			Description:  r.Description,
			Confidence:   r.Confidence,
		})
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("failed to store relation %s -> %s: %v", r.Source, r.Target, err))
			continue
		}
		result.Relations = append(result.Relations, stored)

		if err := p.store.RecordExtraction(ctx, projectID, cotItemID, "relation", stored.ID, extractionMethod, sourceText); err != nil {
			log.Printf("Warning: %v", err)
		}
		if err := p.mirror.UpsertEdge(ctx, projectID, stored); err != nil {
			log.Printf("Warning: graph mirror rejected edge %s: %v", stored.ID, err)
		}
	}
}
