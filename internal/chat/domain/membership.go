package domain

// ChatParticipant definition chat membership row, consumed from the
// externally owned participants table, never written by this service.
type ChatParticipant struct {
	ChatID        string `json:"chat_id"`
	ParticipantID string `json:"participant_id"`
	JoinedAt      string `json:"joined_at"`
}
