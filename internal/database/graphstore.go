package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
	"github.com/cotstudio/cot-studio-go/internal/apptype"
	"github.com/cotstudio/cot-studio-go/internal/metrics"
)

// UpsertEntity inserts an entity or, when the (project, name, type) natural
// key already exists, raises the stored confidence to max(old, new) and
// reuses the stored id. The write is a single ON CONFLICT statement so
// concurrent extraction tasks cannot race a read-then-insert; the
// singleflight group additionally collapses same-key upserts in-process.
func (dm *DBManager) UpsertEntity(ctx context.Context, projectID string, entity apptype.Entity) (apptype.Entity, error) {
	done := metrics.TimeOp("db_upsert_entity")
	success := false
	defer func() { done(success) }()

	if strings.TrimSpace(entity.Name) == "" {
		return apptype.Entity{}, apperr.Validation("name", "entity name must be a non-empty string")
	}
	if strings.TrimSpace(entity.EntityType) == "" {
		return apptype.Entity{}, apperr.Validation("entity_type", "invalid entity type for entity %q", entity.Name)
	}

	// Embeddings are best-effort: a provider failure logs and the entity is
	// stored with a zero vector.
	if dm.provider != nil && len(entity.Embedding) == 0 {
		input := entity.Name
		if entity.Description != "" {
			input = entity.Name + "\n" + entity.Description
		}
		vecs, err := dm.provider.Embed(ctx, []string{input})
		if err != nil || len(vecs) != 1 {
			log.Printf("Warning: embedding generation failed for entity %q: %v", entity.Name, err)
		} else {
			entity.Embedding = vecs[0]
		}
	}

	key := "entity:" + projectID + ":" + entity.Name + ":" + entity.EntityType
	v, err, _ := dm.upsertGroup.Do(key, func() (any, error) {
		vectorString, vErr := dm.vectorToString(entity.Embedding)
		if vErr != nil {
			return nil, fmt.Errorf("failed to convert embedding for entity %q: %w", entity.Name, vErr)
		}

		newID := entity.ID
		if newID == "" {
			newID = uuid.NewString()
		}
		row := dm.db.QueryRowContext(ctx,
			`INSERT INTO entities (id, project_id, name, entity_type, description, confidence, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, vector32(?), ?)
			 ON CONFLICT (project_id, name, entity_type) DO UPDATE SET
			     confidence = MAX(entities.confidence, excluded.confidence),
			     description = CASE WHEN excluded.description <> '' THEN excluded.description ELSE entities.description END
			 RETURNING id, description, confidence, created_at`,
			newID, projectID, entity.Name, entity.EntityType, entity.Description,
			entity.Confidence, vectorString, formatTimestamp(time.Now()))

		stored := entity
		var createdAt string
		if err := row.Scan(&stored.ID, &stored.Description, &stored.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to upsert entity %q: %w", entity.Name, err)
		}
		stored.CreatedAt = parseTimestamp(createdAt)
		return stored, nil
	})
	if err != nil {
		return apptype.Entity{}, err
	}
	success = true
	return v.(apptype.Entity), nil
}

// UpsertRelation inserts a relation or raises the confidence of the existing
// row with the same (project, source, target, type) natural key.
func (dm *DBManager) UpsertRelation(ctx context.Context, projectID string, relation apptype.Relation) (apptype.Relation, error) {
	done := metrics.TimeOp("db_upsert_relation")
	success := false
	defer func() { done(success) }()

	if relation.SourceID == "" || relation.TargetID == "" || relation.RelationType == "" {
		return apptype.Relation{}, apperr.Validation("relation", "relation fields cannot be empty")
	}

	// Same best-effort embedding policy as entities, over the relation text.
	if dm.provider != nil && len(relation.Embedding) == 0 {
		input := relation.RelationType
		if relation.Description != "" {
			input = relation.RelationType + "\n" + relation.Description
		}
		vecs, err := dm.provider.Embed(ctx, []string{input})
		if err != nil || len(vecs) != 1 {
			log.Printf("Warning: embedding generation failed for relation %q: %v", relation.RelationType, err)
		} else {
			relation.Embedding = vecs[0]
		}
	}

	key := "relation:" + projectID + ":" + relation.SourceID + ":" + relation.TargetID + ":" + relation.RelationType
	v, err, _ := dm.upsertGroup.Do(key, func() (any, error) {
		vectorString, vErr := dm.vectorToString(relation.Embedding)
		if vErr != nil {
			return nil, fmt.Errorf("failed to convert embedding for relation %q: %w", relation.RelationType, vErr)
		}

		newID := relation.ID
		if newID == "" {
			newID = uuid.NewString()
		}
		row := dm.db.QueryRowContext(ctx,
			`INSERT INTO relations (id, project_id, source_id, target_id, relation_type, description, confidence, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, vector32(?), ?)
			 ON CONFLICT (project_id, source_id, target_id, relation_type) DO UPDATE SET
			     confidence = MAX(relations.confidence, excluded.confidence),
			     description = CASE WHEN excluded.description <> '' THEN excluded.description ELSE relations.description END
			 RETURNING id, description, confidence, created_at`,
			newID, projectID, relation.SourceID, relation.TargetID, relation.RelationType,
			relation.Description, relation.Confidence, vectorString, formatTimestamp(time.Now()))

		stored := relation
		var createdAt string
		if err := row.Scan(&stored.ID, &stored.Description, &stored.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to upsert relation (%s -> %s): %w", relation.SourceID, relation.TargetID, err)
		}
		stored.CreatedAt = parseTimestamp(createdAt)
		return stored, nil
	})
	if err != nil {
		return apptype.Relation{}, err
	}
	success = true
	return v.(apptype.Relation), nil
}

// RecordExtraction writes one provenance row linking a stored entity or
// relation back to the CoT item it was mined from.
func (dm *DBManager) RecordExtraction(ctx context.Context, projectID, cotItemID, targetKind, targetID, method, sourceText string) error {
	_, err := dm.db.ExecContext(ctx,
		"INSERT INTO extractions (project_id, cot_item_id, target_kind, target_id, method, source_text, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		projectID, cotItemID, targetKind, targetID, method, sourceText, formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record extraction for %s %s: %w", targetKind, targetID, err)
	}
	return nil
}

// GetEntityByKey fetches an entity by its natural key.
func (dm *DBManager) GetEntityByKey(ctx context.Context, projectID, name, entityType string) (*apptype.Entity, error) {
	row := dm.db.QueryRowContext(ctx,
		"SELECT id, name, entity_type, description, confidence, embedding, created_at FROM entities WHERE project_id = ? AND name = ? AND entity_type = ?",
		projectID, name, entityType)

	entity, err := dm.scanEntity(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("entity %s/%s: %w", name, entityType, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	return entity, nil
}

func (dm *DBManager) scanEntity(scan func(...any) error) (*apptype.Entity, error) {
	var e apptype.Entity
	var embeddingBytes []byte
	var createdAt string
	if err := scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.Confidence, &embeddingBytes, &createdAt); err != nil {
		return nil, err
	}
	e.CreatedAt = parseTimestamp(createdAt)
	vector, err := dm.extractVector(embeddingBytes)
	if err != nil {
		return nil, err
	}
	e.Embedding = vector
	return &e, nil
}

const entityColumns = "id, name, entity_type, description, confidence, embedding, created_at"

func (dm *DBManager) collectEntities(rows *sql.Rows) []apptype.Entity {
	entities := []apptype.Entity{}
	for rows.Next() {
		entity, err := dm.scanEntity(rows.Scan)
		if err != nil {
			log.Printf("Warning: Failed to scan entity row: %v", err)
			continue
		}
		entities = append(entities, *entity)
	}
	return entities
}

// ProjectEntities returns every entity of a project, oldest first.
func (dm *DBManager) ProjectEntities(ctx context.Context, projectID string) ([]apptype.Entity, error) {
	rows, err := dm.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM entities WHERE project_id = ? ORDER BY created_at, id", entityColumns), projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()
	return dm.collectEntities(rows), rows.Err()
}

// ProjectRelations returns every relation of a project, oldest first.
func (dm *DBManager) ProjectRelations(ctx context.Context, projectID string) ([]apptype.Relation, error) {
	rows, err := dm.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM relations WHERE project_id = ? ORDER BY created_at, id", relationColumns),
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()
	return dm.collectRelations(rows), rows.Err()
}

const relationColumns = "id, source_id, target_id, relation_type, description, confidence, embedding, created_at"

func (dm *DBManager) collectRelations(rows *sql.Rows) []apptype.Relation {
	relations := []apptype.Relation{}
	for rows.Next() {
		var r apptype.Relation
		var embeddingBytes []byte
		var createdAt string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.RelationType, &r.Description, &r.Confidence, &embeddingBytes, &createdAt); err != nil {
			log.Printf("Warning: Failed to scan relation row: %v", err)
			continue
		}
		vector, err := dm.extractVector(embeddingBytes)
		if err != nil {
			log.Printf("Warning: Failed to extract vector for relation %q: %v", r.RelationType, err)
			continue
		}
		r.Embedding = vector
		r.CreatedAt = parseTimestamp(createdAt)
		relations = append(relations, r)
	}
	return relations
}

// RecentEntities retrieves recently created entities.
func (dm *DBManager) RecentEntities(ctx context.Context, projectID string, limit int) ([]apptype.Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	stmt, err := dm.getPreparedStmt(ctx,
		fmt.Sprintf("SELECT %s FROM entities WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT ?", entityColumns))
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent entities: %w", err)
	}
	defer rows.Close()
	return dm.collectEntities(rows), rows.Err()
}

// RelationsForEntities retrieves relations touching any of the given entities.
func (dm *DBManager) RelationsForEntities(ctx context.Context, projectID string, entities []apptype.Entity) ([]apptype.Relation, error) {
	if len(entities) == 0 {
		return []apptype.Relation{}, nil
	}

	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(
		`SELECT %s FROM relations WHERE project_id = ? AND (source_id IN (%s) OR target_id IN (%s))`,
		relationColumns, placeholders, placeholders)

	args := make([]any, 0, len(ids)*2+1)
	args = append(args, projectID)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := dm.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()
	return dm.collectRelations(rows), rows.Err()
}

// ReadGraph retrieves recent entities and their relations.
func (dm *DBManager) ReadGraph(ctx context.Context, projectID string, limit int) ([]apptype.Entity, []apptype.Relation, error) {
	entities, err := dm.RecentEntities(ctx, projectID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get recent entities: %w", err)
	}
	relations, err := dm.RelationsForEntities(ctx, projectID, entities)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get relations: %w", err)
	}
	return entities, relations, nil
}

// SearchEntities performs text-based search over names, types and descriptions.
func (dm *DBManager) SearchEntities(ctx context.Context, projectID, query string, limit int) ([]apptype.Entity, error) {
	if query == "" {
		return nil, apperr.Validation("query", "search query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	like := fmt.Sprintf("%%%s%%", query)
	rows, err := dm.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM entities
		 WHERE project_id = ? AND (name LIKE ? OR entity_type LIKE ? OR description LIKE ?)
		 ORDER BY confidence DESC LIMIT ?`, entityColumns),
		projectID, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute entity search: %w", err)
	}
	defer rows.Close()
	return dm.collectEntities(rows), rows.Err()
}

// SearchSimilar performs vector similarity search over entity embeddings.
func (dm *DBManager) SearchSimilar(ctx context.Context, projectID string, embedding []float32, limit int) ([]apptype.Entity, error) {
	if len(embedding) == 0 {
		return nil, apperr.Validation("embedding", "search embedding cannot be empty")
	}
	if limit <= 0 {
		limit = 5
	}
	vectorString, err := dm.vectorToString(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to convert search embedding: %w", err)
	}

	rows, err := dm.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, vector_distance_cos(embedding, vector32(?)) AS distance
		 FROM entities
		 WHERE project_id = ? AND embedding IS NOT NULL AND embedding != vector32(?)
		 ORDER BY distance ASC LIMIT ?`, entityColumns),
		vectorString, projectID, dm.vectorZeroString(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	entities := []apptype.Entity{}
	for rows.Next() {
		var e apptype.Entity
		var embeddingBytes []byte
		var createdAt string
		var distance float64
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.Confidence, &embeddingBytes, &createdAt, &distance); err != nil {
			log.Printf("Warning: Failed to scan search result row: %v", err)
			continue
		}
		e.CreatedAt = parseTimestamp(createdAt)
		vector, vErr := dm.extractVector(embeddingBytes)
		if vErr != nil {
			log.Printf("Warning: Failed to extract vector for entity %q: %v", e.Name, vErr)
			continue
		}
		e.Embedding = vector
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	return entities, nil
}
