package domain

// FrameType websocket frame discriminator
type FrameType string

const (
	// FrameConnected server handshake ack after connect
	FrameConnected FrameType = "connected"
	// FrameMessage chat message, both directions
	FrameMessage FrameType = "message"
	// FrameSystem non-message chat event (join/leave)
	FrameSystem FrameType = "system"
	// FrameAckMessageReceived client confirms delivery of one message id
	FrameAckMessageReceived FrameType = "ack-message-received"
	// FrameSubscribe client joins a chat channel mid-session
	FrameSubscribe FrameType = "subscribe"
	// FrameUnsubscribe client leaves a chat channel mid-session
	FrameUnsubscribe FrameType = "unsubscribe"
	// FrameSubscribed server confirms a subscribe
	FrameSubscribed FrameType = "subscribed"
	// FrameUnsubscribed server confirms an unsubscribe
	FrameUnsubscribed FrameType = "unsubscribed"
	// FrameError non-fatal protocol error
	FrameError FrameType = "error"
	// FramePing client heartbeat
	FramePing FrameType = "ping"
	// FramePong heartbeat reply
	FramePong FrameType = "pong"
)

// Frame websocket envelope, one JSON object per frame. The same shape is
// used on both directions and as the broker payload, unused fields are
// omitted.
type Frame struct {
	Type FrameType `json:"type"`

	UserID          string   `json:"user_id,omitempty"`
	SubscribedChats []string `json:"subscribed_chats,omitempty"`

	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
	Content   string `json:"content,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`

	UploadStatus UploadStatus `json:"upload_status,omitempty"`
	BlobBucket   string       `json:"blob_bucket,omitempty"`
	BlobKey      string       `json:"blob_key,omitempty"`

	// pointer so confirmations carry an explicit success:false on rejection
	// while every other frame type omits the field
	Success   *bool `json:"success,omitempty"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// SuccessFlag build the Success field of a confirmation frame
func SuccessFlag(ok bool) *bool { return &ok }

// MessageFrame build a message frame from a stored message
func MessageFrame(m *Message) Frame {
	return Frame{
		Type:         FrameMessage,
		ChatID:       m.ChatID,
		MessageID:    m.MessageID,
		SenderID:     m.SenderID,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt,
		UploadStatus: m.UploadStatus,
		BlobBucket:   m.BlobBucket,
		BlobKey:      m.BlobKey,
	}
}

// Message rebuild the stored message carried by a message frame
func (f *Frame) Message() Message {
	return Message{
		MessageID:    f.MessageID,
		ChatID:       f.ChatID,
		SenderID:     f.SenderID,
		Content:      f.Content,
		CreatedAt:    f.CreatedAt,
		UploadStatus: f.UploadStatus,
		BlobBucket:   f.BlobBucket,
		BlobKey:      f.BlobKey,
	}
}
