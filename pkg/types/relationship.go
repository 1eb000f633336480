package types

import "time"

// Sentiment qualifies a relationship or preference edge.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"

	// SentimentNone marks an edge with no sentiment recorded.
	SentimentNone Sentiment = ""
)

// Valid reports whether s is an accepted sentiment value.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentNone:
		return true
	}
	return false
}

// Relationship is a typed, labelled edge between two entities, or between an
// entity and a literal value (preference edges point at literals so "likes
// jazz" does not force a graph node for "jazz").
//
// The (FromID, ToID|LiteralValue, Label) triple is unique: re-asserting the
// same fact updates CreatedAt and Sentiment instead of duplicating the row.
type Relationship struct {
	ID     string `json:"id"`
	FromID string `json:"from_id"` // Source entity ID

	// Exactly one of ToID and LiteralValue is set.
	ToID         string `json:"to_id,omitempty"`
	LiteralValue string `json:"literal_value,omitempty"`

	Label     string    `json:"label"` // e.g. "mother", "prefers", "works_at"
	Sentiment Sentiment `json:"sentiment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GraphFact is a relationship rendered against resolved entity names,
// suitable for inclusion in a context bundle ("Sunita mother_of User").
type GraphFact struct {
	From      string    `json:"from"`
	Label     string    `json:"label"`
	To        string    `json:"to"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
}
