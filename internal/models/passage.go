package models

// Passage is one indexed document fragment as stored by the ingestion collaborator.
type Passage struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Vector   []float64      `json:"-"`
}
