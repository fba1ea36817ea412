package models

// SessionState tracks the remote conversation across calls. A session is
// reusable for multiple assets within one resolver run; Run requires a
// conversation id and establishes one lazily when absent.
type SessionState struct {
	ConversationID string `json:"conversation_id"`
	LastFileID     string `json:"last_file_id"`
}

// HasConversation reports whether a conversation has been established
func (s *SessionState) HasConversation() bool {
	return s.ConversationID != ""
}

// RunResponse is the payload returned by the remote run-query call
type RunResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
}
