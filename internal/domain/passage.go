package domain

// Passage is one nearest-neighbour match returned by the vector index.
type Passage struct {
	ID    string
	Score float64
	Text  string
	// HasText is false when the match payload carried no usable text field.
	HasText bool
}
