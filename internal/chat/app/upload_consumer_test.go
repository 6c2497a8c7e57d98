package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// fakeKafkaReader hands out queued messages then blocks until ctx cancel
type fakeKafkaReader struct {
	msgs   chan kafka.Message
	closed bool
}

func (r *fakeKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeKafkaReader) Close() error {
	r.closed = true
	return nil
}

func uploadEvent(t *testing.T, ev domain.UploadCompletedEvent) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(ev)
	assert.NoError(t, err)
	return kafka.Message{Value: raw}
}

// 測試上傳完成事件把訊息轉為 COMPLETED 並重新發布
func TestUploadCompletionConsumer_Process(t *testing.T) {
	ctx := context.Background()
	mockMsgRepo := new(MockMessageRepository)
	mockPubSub := new(MockPubSub)

	completed := &domain.Message{
		MessageID:    "m1",
		ChatID:       "c1",
		UploadStatus: domain.UploadCompleted,
		BlobBucket:   "media",
		BlobKey:      "c1/m1.png",
	}
	mockMsgRepo.On("UpdateUploadStatus", ctx, "m1", domain.UploadCompleted, "media", "c1/m1.png").Return(nil)
	mockMsgRepo.On("FindByID", ctx, "m1").Return(completed, nil)
	mockPubSub.On("Publish", ctx, "chat:c1", mock.MatchedBy(func(f domain.Frame) bool {
		// 同一個 message id 重新發布，client 端 merge 會原地覆蓋
		return f.MessageID == "m1" && f.UploadStatus == domain.UploadCompleted
	})).Return(nil)

	c := &UploadCompletionConsumer{msgRepo: mockMsgRepo, pubsub: mockPubSub}
	raw, _ := json.Marshal(domain.UploadCompletedEvent{
		MessageID: "m1", ChatID: "c1", BlobBucket: "media", BlobKey: "c1/m1.png",
	})

	assert.NoError(t, c.process(ctx, raw))
	mockMsgRepo.AssertExpectations(t)
	mockPubSub.AssertExpectations(t)
}

// 測試未知訊息的事件被忽略
func TestUploadCompletionConsumer_Process_UnknownMessage(t *testing.T) {
	ctx := context.Background()
	mockMsgRepo := new(MockMessageRepository)
	mockPubSub := new(MockPubSub)

	mockMsgRepo.On("UpdateUploadStatus", ctx, "m-gone", domain.UploadCompleted, "", "").
		Return(repository.ErrMessageNotFound)

	c := &UploadCompletionConsumer{msgRepo: mockMsgRepo, pubsub: mockPubSub}
	raw, _ := json.Marshal(domain.UploadCompletedEvent{MessageID: "m-gone", ChatID: "c1"})

	assert.NoError(t, c.process(ctx, raw))
	mockPubSub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

// 測試缺欄位的事件被忽略
func TestUploadCompletionConsumer_Process_MissingIDs(t *testing.T) {
	c := &UploadCompletionConsumer{msgRepo: new(MockMessageRepository), pubsub: new(MockPubSub)}
	raw, _ := json.Marshal(domain.UploadCompletedEvent{ChatID: "c1"})
	assert.NoError(t, c.process(context.Background(), raw))
}

// 測試壞 payload 回報錯誤但不中斷
func TestUploadCompletionConsumer_Process_BadPayload(t *testing.T) {
	c := &UploadCompletionConsumer{msgRepo: new(MockMessageRepository), pubsub: new(MockPubSub)}
	assert.Error(t, c.process(context.Background(), []byte("not json")))
}

// 測試 Run 在 ctx 取消時收尾
func TestUploadCompletionConsumer_Run(t *testing.T) {
	mockMsgRepo := new(MockMessageRepository)
	mockPubSub := new(MockPubSub)

	completed := &domain.Message{MessageID: "m1", ChatID: "c1", UploadStatus: domain.UploadCompleted}
	published := make(chan struct{}, 1)
	mockMsgRepo.On("UpdateUploadStatus", mock.Anything, "m1", domain.UploadCompleted, "", "").Return(nil)
	mockMsgRepo.On("FindByID", mock.Anything, "m1").Return(completed, nil)
	mockPubSub.On("Publish", mock.Anything, "chat:c1", mock.Anything).
		Run(func(mock.Arguments) { published <- struct{}{} }).Return(nil)

	reader := &fakeKafkaReader{msgs: make(chan kafka.Message, 1)}
	reader.msgs <- uploadEvent(t, domain.UploadCompletedEvent{MessageID: "m1", ChatID: "c1"})

	c := &UploadCompletionConsumer{reader: reader, msgRepo: mockMsgRepo, pubsub: mockPubSub}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not processed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
	assert.True(t, reader.closed)
}

// 測試讀取錯誤不會結束 Run
func TestUploadCompletionConsumer_Run_ReadErrorContinues(t *testing.T) {
	reader := &errOnceReader{err: errors.New("broker hiccup"), inner: &fakeKafkaReader{msgs: make(chan kafka.Message)}}
	c := &UploadCompletionConsumer{reader: reader, msgRepo: new(MockMessageRepository), pubsub: new(MockPubSub)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return reader.fired() }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

type errOnceReader struct {
	mu    sync.Mutex
	err   error
	used  bool
	inner *fakeKafkaReader
}

func (r *errOnceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if !r.used {
		r.used = true
		r.mu.Unlock()
		return kafka.Message{}, r.err
	}
	r.mu.Unlock()
	return r.inner.ReadMessage(ctx)
}

func (r *errOnceReader) Close() error { return r.inner.Close() }

func (r *errOnceReader) fired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}
