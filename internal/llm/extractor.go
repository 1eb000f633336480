package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sundialhq/sundial/pkg/types"
)

// extractionPromptTemplate asks for the fixed extraction schema. The model
// must answer with a single JSON object; anything that does not validate
// against the schema is treated as a failed extraction.
const extractionPromptTemplate = `You are the memory manager for a personal assistant. Analyze the
conversation turn below and extract durable knowledge about the user's life.

Respond with ONLY a JSON object in exactly this shape:
{
  "people": [{"name": "...", "relation": "...", "sentiment": "positive|negative|neutral"}],
  "preferences": [{"subject": "...", "sentiment": "positive|negative|neutral"}],
  "facts": [{"subject": "...", "fact": "..."}],
  "events": [{"description": "...", "importance": 0.5, "expiry_days": 0, "tags": ["..."]}]
}

Rules:
- "people": a person mentioned, with their relation to the user ("mother", "colleague", ...).
- "preferences": things the user likes or dislikes; sentiment is required.
- "facts": standalone facts about a named subject ("Climate KIC", "works in Amsterdam").
- "events": things that happened or will happen. importance is 0.0-1.0.
  Use expiry_days for short-lived events ("meeting tomorrow" expires in 1 day);
  0 means permanent.
- Use empty arrays for categories with nothing to extract. Do not invent content.

Conversation turn:
%s`

// Extractor runs structured extraction over finished conversation turns.
type Extractor struct {
	generator TextGenerator
}

// NewExtractor creates an extractor backed by the given text generator.
func NewExtractor(generator TextGenerator) *Extractor {
	return &Extractor{generator: generator}
}

// Extract sends the turn to the model and parses the structured result.
// It makes exactly one attempt: any provider or schema failure is returned
// to the caller, which logs and drops the turn.
func (e *Extractor) Extract(ctx context.Context, turn types.ConversationTurn) (*types.ExtractionResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User: %s\n", turn.UserText)
	if turn.AgentText != "" {
		fmt.Fprintf(&sb, "Assistant: %s\n", turn.AgentText)
	}

	raw, err := e.generator.Complete(ctx, fmt.Sprintf(extractionPromptTemplate, sb.String()))
	if err != nil {
		return nil, fmt.Errorf("llm: extraction call failed: %w", err)
	}

	result, err := ParseExtraction(raw)
	if err != nil {
		return nil, fmt.Errorf("llm: extraction response invalid: %w", err)
	}
	return result, nil
}
