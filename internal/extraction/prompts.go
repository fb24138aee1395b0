package extraction

import (
	"fmt"
	"strings"
	"text/template"
)

var entityPromptTmpl = template.Must(template.New("entities").Parse(
	`You extract knowledge-graph entities from annotated reasoning data.

Question:
{{.Question}}

Chosen answer:
{{.Answer}}

Reasoning:
{{.Reasoning}}

Identify the distinct entities mentioned above. For each entity report:
- "name": the canonical entity name
- "type": one of person, organization, location, concept, event, method, object, other
- "description": one sentence describing the entity in this context
- "confidence": a number between 0 and 1

Respond with ONLY a valid JSON array of entity objects. No prose, no code fences.`))

var relationPromptTmpl = template.Must(template.New("relations").Parse(
	`You extract typed relations between known entities.

Entities:
{{range .Entities}}- {{.}}
{{end}}
Context:
{{.Context}}

Identify relations that hold between the listed entities. For each relation report:
- "source": an entity name from the list above
- "target": an entity name from the list above
- "type": one of causes, part_of, belongs_to, related_to, depends_on, leads_to, other
- "description": one sentence describing the relation
- "confidence": a number between 0 and 1

Only use entity names from the list. Respond with ONLY a valid JSON array of relation objects. No prose, no code fences.`))

type entityPromptData struct {
	Question  string
	Answer    string
	Reasoning string
}

type relationPromptData struct {
	Entities []string
	Context  string
}

func renderEntityPrompt(question, answer, reasoning string) (string, error) {
	var sb strings.Builder
	err := entityPromptTmpl.Execute(&sb, entityPromptData{
		Question:  question,
		Answer:    answer,
		Reasoning: reasoning,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render entity prompt: %w", err)
	}
	return sb.String(), nil
}

func renderRelationPrompt(entityNames []string, context string) (string, error) {
	var sb strings.Builder
	err := relationPromptTmpl.Execute(&sb, relationPromptData{
		Entities: entityNames,
		Context:  context,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render relation prompt: %w", err)
	}
	return sb.String(), nil
}
