package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"strings"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/database"

	"github.com/segmentio/kafka-go"
)

// 開發用工具: 對 upload-completed topic 發一筆事件, 模擬 media service
// 完成上傳, 用來驗證 consumer 的 PENDING -> COMPLETED 流程
func main() {
	var (
		brokers   = flag.String("brokers", "localhost:9092", "comma separated kafka brokers")
		topic     = flag.String("topic", "upload-completed", "kafka topic")
		messageID = flag.String("message-id", "", "message id of the pending message")
		chatID    = flag.String("chat-id", "", "chat the message belongs to")
		bucket    = flag.String("bucket", "media", "blob bucket")
		key       = flag.String("key", "", "blob key")
	)
	flag.Parse()
	if *messageID == "" || *chatID == "" {
		log.Fatal("missing -message-id or -chat-id")
	}

	writer, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
		Brokers:       strings.Split(*brokers, ","),
		Topic:         *topic,
		RetryCount:    3,
		RetryInterval: 2,
	})
	if err != nil {
		log.Fatalf("kafka writer: %v", err)
	}
	defer writer.Close()

	payload, err := json.Marshal(domain.UploadCompletedEvent{
		MessageID:  *messageID,
		ChatID:     *chatID,
		BlobBucket: *bucket,
		BlobKey:    *key,
	})
	if err != nil {
		log.Fatalf("marshal event: %v", err)
	}

	if err := writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(*messageID),
		Value: payload,
	}); err != nil {
		log.Fatalf("write event: %v", err)
	}
	log.Printf("upload-completed emitted: message_id=%s chat_id=%s", *messageID, *chatID)
}
