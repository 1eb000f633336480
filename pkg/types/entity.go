package types

import "time"

// EntityKind classifies what a graph entity refers to.
type EntityKind string

const (
	// KindPerson is a person the user has mentioned.
	KindPerson EntityKind = "person"

	// KindPreference is a thing the user holds an opinion about.
	KindPreference EntityKind = "preference"

	// KindFactSubject is the subject of a free-form fact.
	KindFactSubject EntityKind = "fact_subject"
)

// Valid reports whether k is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindPerson, KindPreference, KindFactSubject:
		return true
	}
	return false
}

// Entity is a canonical node in the knowledge graph. The resolution algorithm
// guarantees exactly one Entity per real-world referent: mentions that match
// an existing entity by name (case-insensitive) or by embedding similarity
// are merged into it instead of creating a duplicate.
type Entity struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
	Name string     `json:"name"` // Canonical display name

	// NameEmbedding is the embedding of the canonical name, used for
	// similarity-based resolution of surface variants.
	NameEmbedding []float32 `json:"name_embedding,omitempty"`

	// Attributes holds free-form key/value facts about the entity.
	// Keys are unique; upserts overwrite on collision.
	Attributes map[string]string `json:"attributes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mention is a raw reference to an entity as extracted from conversation:
// a name plus an optional kind hint. Resolution maps it to a canonical Entity.
type Mention struct {
	Name string     `json:"name"`
	Kind EntityKind `json:"kind"`
}
