package extraction

import (
	"context"
	"log"

	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// GraphMirror receives stored entities and relations for propagation into
// an external graph view. Mirroring is best-effort: implementations report
// failures through their return value and the pipeline logs them without
// failing the extraction.
type GraphMirror interface {
	UpsertNode(ctx context.Context, projectID string, entity apptype.Entity) error
	UpsertEdge(ctx context.Context, projectID string, relation apptype.Relation) error
}

// LogMirror is the default mirror: it records graph writes to the process
// log and never fails.
type LogMirror struct{}

func (LogMirror) UpsertNode(_ context.Context, projectID string, entity apptype.Entity) error {
	log.Printf("graph mirror: node %s/%s (%s)", projectID, entity.Name, entity.EntityType)
	return nil
}

func (LogMirror) UpsertEdge(_ context.Context, projectID string, relation apptype.Relation) error {
	log.Printf("graph mirror: edge %s/%s-[%s]->%s", projectID, relation.SourceID, relation.RelationType, relation.TargetID)
	return nil
}
