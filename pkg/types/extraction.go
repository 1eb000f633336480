package types

import "time"

// ConversationTurn is one completed user/agent exchange, handed to the
// extraction pipeline after the reply has already been dispatched.
type ConversationTurn struct {
	ThreadID  string    `json:"thread_id"`
	UserText  string    `json:"user_text"`
	AgentText string    `json:"agent_text"`
	At        time.Time `json:"at"`
}

// PersonMention is a person reference extracted from a turn, together with
// the relation that links them to the user ("mother", "colleague", ...).
type PersonMention struct {
	Name      string    `json:"name"`
	Relation  string    `json:"relation"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
}

// PreferenceMention is a like/dislike statement about a subject.
type PreferenceMention struct {
	Subject   string    `json:"subject"`
	Sentiment Sentiment `json:"sentiment"`
}

// FactMention is a free-text fact about a named subject.
type FactMention struct {
	Subject string `json:"subject"`
	Fact    string `json:"fact"`
}

// EventMention is an episodic event worth remembering, with retrieval
// importance and an optional expiry horizon in days (0 = permanent).
type EventMention struct {
	Description string   `json:"description"`
	Importance  float64  `json:"importance"`
	ExpiryDays  float64  `json:"expiry_days,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ExtractionResult is the strict structured-output schema produced by one
// extraction call. Fields that violate the schema make the whole result a
// parse failure; the turn's extraction is then dropped, never retried.
type ExtractionResult struct {
	People      []PersonMention     `json:"people"`
	Preferences []PreferenceMention `json:"preferences"`
	Facts       []FactMention       `json:"facts"`
	Events      []EventMention      `json:"events"`
}

// Empty reports whether the result carries nothing to store.
func (r *ExtractionResult) Empty() bool {
	return len(r.People) == 0 && len(r.Preferences) == 0 &&
		len(r.Facts) == 0 && len(r.Events) == 0
}
