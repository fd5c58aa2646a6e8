package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/deepresearch/pkg/ai"
)

// MinExtractLength is the shortest text worth an extraction request.
const MinExtractLength = 20

// Extraction is the structured output requested from the model.
type Extraction struct {
	Nodes []Node `json:"nodes" jsonschema_description:"Entities found in the text"`
	Edges []Edge `json:"edges" jsonschema_description:"Relations between the extracted entities, referencing their ids"`
}

// Extract asks model for the entities and relations stated in text. Texts
// shorter than MinExtractLength yield an empty extraction without a request.
func Extract(
	ctx context.Context,
	model ai.GenerativeModel,
	section string,
	text string,
	opts ...ai.GenerateOption,
) (Extraction, error) {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < MinExtractLength {
		return Extraction{}, nil
	}

	prompt := fmt.Sprintf(ai.ExtractGraphPrompt, section, text)

	var out Extraction
	if err := model.GenerateStructured(
		ctx,
		"knowledge_graph",
		"Entities and relations extracted from research findings",
		prompt,
		&out,
		opts...,
	); err != nil {
		return Extraction{}, fmt.Errorf("extract knowledge graph: %w", err)
	}
	return out, nil
}
