package domain

// UploadStatus definition attachment upload state
type UploadStatus string

const (
	// UploadPending attachment upload still in progress
	UploadPending UploadStatus = "PENDING"
	// UploadCompleted attachment upload finished
	UploadCompleted UploadStatus = "COMPLETED"
	// UploadFailed attachment upload failed
	UploadFailed UploadStatus = "FAILED"
)

// Message definition one sent message, append-only per chat.
// CreatedAt is Unix milliseconds and doubles as the sort key.
// Only UploadStatus may change after the initial write (driven by the
// upload completion event).
type Message struct {
	MessageID string `bson:"_id" json:"message_id"`
	ChatID    string `bson:"chat_id" json:"chat_id"`
	SenderID  string `bson:"sender_id" json:"sender_id"`
	Content   string `bson:"content" json:"content"`
	CreatedAt int64  `bson:"created_at" json:"created_at"`

	// attachment fields, only present for media messages
	UploadStatus UploadStatus `bson:"upload_status,omitempty" json:"upload_status,omitempty"`
	BlobBucket   string       `bson:"blob_bucket,omitempty" json:"blob_bucket,omitempty"`
	BlobKey      string       `bson:"blob_key,omitempty" json:"blob_key,omitempty"`
}

// HasAttachment check message carry a blob reference
func (m *Message) HasAttachment() bool {
	return m.BlobKey != ""
}

// UploadCompletedEvent definition kafka upload-completed payload
type UploadCompletedEvent struct {
	MessageID  string `json:"message_id"`
	ChatID     string `json:"chat_id"`
	BlobBucket string `json:"blob_bucket"`
	BlobKey    string `json:"blob_key"`
	Filename   string `json:"filename,omitempty"`
	Size       int64  `json:"size,omitempty"`
}
