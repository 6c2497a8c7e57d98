package domain

// InboxEntry definition one undelivered message pointer for one recipient.
// RecipientID is the partition key, CreatedAt the sort key (mirrors the
// Message timestamp so catch-up replays in chronological order). The entry
// references the Message, it never copies the payload.
type InboxEntry struct {
	RecipientID string `json:"recipient_id"`
	CreatedAt   int64  `json:"created_at"`
	ChatID      string `json:"chat_id"`
	MessageID   string `json:"message_id"`
}

// InboxList definition the catch-up sync response: resolved messages in
// CreatedAt ascending order.
type InboxList struct {
	Items       []Message `json:"items"`
	Count       int       `json:"count"`
	RecipientID string    `json:"recipient_id"`
}
