package domain

// Exchange is a single recorded question/answer pair of a conversation.
type Exchange struct {
	PK             string `json:"-"`
	SK             string `json:"-"`
	ConversationID string `json:"conversationId"`
	Question       string `json:"question"`
	Answer         string `json:"answer"`
	Provider       string `json:"provider"`
	Degraded       bool   `json:"degraded"`
	RecordedAt     string `json:"recordedAt"`
	TTL            int64  `json:"-"`
}

// ConversationMeta stores aggregate conversation state.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	LastActivity   string
	Turns          int
	TTL            int64
}
