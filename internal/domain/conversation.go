package domain

// StatusComplete marks a persisted turn whose answer was delivered by the model.
const StatusComplete = "complete"

// Message is a single persisted conversation turn: the user's text and the
// model's answer to it.
type Message struct {
	PK             string
	SK             string
	ConversationID string
	Text           string
	Answer         string
	Status         string
	TTL            int64
}

// ConversationMeta stores aggregate conversation state.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	LastActivity   string
	Turns          int
	// ResetAt is the timestamp of the first turn after the latest restart.
	// History older than it is never replayed.
	ResetAt string
	TTL     int64
}
