package model

import "time"

// Category classifies what kind of knowledge a memory holds. It is
// informational only and is used as a filter dimension, never for ranking.
type Category string

const (
	CategoryFact        Category = "fact"
	CategoryPreference  Category = "preference"
	CategorySummary     Category = "summary"
	CategoryInstruction Category = "instruction"
	CategoryEpisode     Category = "episode"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryFact, CategoryPreference, CategorySummary, CategoryInstruction, CategoryEpisode:
		return true
	}
	return false
}

// Memory is one stored unit of content plus its lifecycle metadata.
// The embedding vector lives only in the vector index; the metadata store
// holds everything else and is the source of truth for maintenance.
type Memory struct {
	ID             string     `json:"memoryId"`
	ProfileID      string     `json:"profileId"`
	Content        string     `json:"content"`
	Category       Category   `json:"category"`
	Tags           []string   `json:"tags,omitempty"`
	Importance     float64    `json:"importance"`
	Pinned         bool       `json:"pinned"`
	SessionID      string     `json:"sessionId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	AccessCount    int64      `json:"accessCount"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// ScoredMemory is a recall hit: the stored memory plus its similarity score.
type ScoredMemory struct {
	Memory
	Similarity float64 `json:"similarity"`
}

// ProfileStats aggregates the metadata store's view of one profile.
type ProfileStats struct {
	Total         int64            `json:"total"`
	Pinned        int64            `json:"pinned"`
	TotalAccesses int64            `json:"totalAccesses"`
	Oldest        *time.Time       `json:"oldest,omitempty"`
	Newest        *time.Time       `json:"newest,omitempty"`
	ByCategory    map[string]int64 `json:"byCategory"`
}
