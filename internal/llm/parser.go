package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sundialhq/sundial/pkg/types"
)

type rawExtraction struct {
	People []struct {
		Name      string `json:"name"`
		Relation  string `json:"relation"`
		Sentiment string `json:"sentiment"`
	} `json:"people"`
	Preferences []struct {
		Subject   string `json:"subject"`
		Sentiment string `json:"sentiment"`
	} `json:"preferences"`
	Facts []struct {
		Subject string `json:"subject"`
		Fact    string `json:"fact"`
	} `json:"facts"`
	Events []struct {
		Description string   `json:"description"`
		Importance  float64  `json:"importance"`
		ExpiryDays  float64  `json:"expiry_days"`
		Tags        []string `json:"tags"`
	} `json:"events"`
}

// ParseExtraction validates a model response against the extraction schema.
// The response may carry prose around the JSON object; the object itself
// must validate strictly. A schema violation is a parse error, never a
// silently repaired value.
func ParseExtraction(response string) (*types.ExtractionResult, error) {
	payload := extractJSON(response)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	result := &types.ExtractionResult{}

	for i, p := range raw.People {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("people[%d]: missing name", i)
		}
		sentiment, err := parseSentiment(p.Sentiment)
		if err != nil {
			return nil, fmt.Errorf("people[%d]: %w", i, err)
		}
		result.People = append(result.People, types.PersonMention{
			Name:      strings.TrimSpace(p.Name),
			Relation:  strings.TrimSpace(p.Relation),
			Sentiment: sentiment,
		})
	}

	for i, p := range raw.Preferences {
		if strings.TrimSpace(p.Subject) == "" {
			return nil, fmt.Errorf("preferences[%d]: missing subject", i)
		}
		sentiment, err := parseSentiment(p.Sentiment)
		if err != nil {
			return nil, fmt.Errorf("preferences[%d]: %w", i, err)
		}
		result.Preferences = append(result.Preferences, types.PreferenceMention{
			Subject:   strings.TrimSpace(p.Subject),
			Sentiment: sentiment,
		})
	}

	for i, f := range raw.Facts {
		if strings.TrimSpace(f.Subject) == "" {
			return nil, fmt.Errorf("facts[%d]: missing subject", i)
		}
		if strings.TrimSpace(f.Fact) == "" {
			return nil, fmt.Errorf("facts[%d]: missing fact", i)
		}
		result.Facts = append(result.Facts, types.FactMention{
			Subject: strings.TrimSpace(f.Subject),
			Fact:    strings.TrimSpace(f.Fact),
		})
	}

	for i, e := range raw.Events {
		if strings.TrimSpace(e.Description) == "" {
			return nil, fmt.Errorf("events[%d]: missing description", i)
		}
		if e.Importance < 0 || e.Importance > 1 {
			return nil, fmt.Errorf("events[%d]: importance %v out of range [0,1]", i, e.Importance)
		}
		if e.ExpiryDays < 0 {
			return nil, fmt.Errorf("events[%d]: negative expiry_days %v", i, e.ExpiryDays)
		}
		result.Events = append(result.Events, types.EventMention{
			Description: strings.TrimSpace(e.Description),
			Importance:  e.Importance,
			ExpiryDays:  e.ExpiryDays,
			Tags:        e.Tags,
		})
	}

	return result, nil
}

func parseSentiment(s string) (types.Sentiment, error) {
	switch types.Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case types.SentimentPositive:
		return types.SentimentPositive, nil
	case types.SentimentNegative:
		return types.SentimentNegative, nil
	case types.SentimentNeutral:
		return types.SentimentNeutral, nil
	default:
		return "", fmt.Errorf("unknown sentiment %q", s)
	}
}

// extractJSON pulls the first balanced JSON object out of a response that
// may be wrapped in markdown fences or prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		response = response[idx+len("```json"):]
		if end := strings.Index(response, "```"); end != -1 {
			response = response[:end]
		}
		response = strings.TrimSpace(response)
	} else if idx := strings.Index(response, "```"); idx != -1 {
		response = response[idx+len("```"):]
		if end := strings.Index(response, "```"); end != -1 {
			response = response[:end]
		}
		response = strings.TrimSpace(response)
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return response[start : i+1]
				}
			}
		}
	}
	return ""
}
