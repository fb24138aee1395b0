package extraction

import (
	"encoding/json"
	"strings"

	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// parseJSONArray decodes a completion response that should be a bare JSON
// array. One fallback tier is allowed: strip code fences and slice out the
// outermost bracket pair, then re-parse. Anything still unparseable comes
// back as ok=false and the caller degrades to an empty result.
func parseJSONArray(response string, out any) bool {
	trimmed := strings.TrimSpace(response)
	if json.Unmarshal([]byte(trimmed), out) == nil {
		return true
	}

	cleaned := stripFences(trimmed)
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(cleaned[start:end+1]), out) == nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

const defaultConfidence = 0.5

// sanitizeEntities drops elements missing a name, coerces unknown types to
// "other" and clamps bad confidence values to the default.
func sanitizeEntities(raw []apptype.ExtractedEntity) []apptype.ExtractedEntity {
	valid := make([]apptype.ExtractedEntity, 0, len(raw))
	for _, e := range raw {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		e.EntityType = apptype.CoerceEntityType(strings.ToLower(strings.TrimSpace(e.EntityType)))
		e.Confidence = sanitizeConfidence(e.Confidence)
		valid = append(valid, e)
	}
	return valid
}

// sanitizeRelations additionally drops relations whose endpoints are not
// in the known entity-name set.
func sanitizeRelations(raw []apptype.ExtractedRelation, known map[string]bool) []apptype.ExtractedRelation {
	valid := make([]apptype.ExtractedRelation, 0, len(raw))
	for _, r := range raw {
		r.Source = strings.TrimSpace(r.Source)
		r.Target = strings.TrimSpace(r.Target)
		if !known[r.Source] || !known[r.Target] {
			continue
		}
		r.RelationType = apptype.CoerceRelationType(strings.ToLower(strings.TrimSpace(r.RelationType)))
		r.Confidence = sanitizeConfidence(r.Confidence)
		valid = append(valid, r)
	}
	return valid
}

func sanitizeConfidence(c float64) float64 {
	if c <= 0 || c > 1 {
		return defaultConfidence
	}
	return c
}
