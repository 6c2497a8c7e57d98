package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/database"
	"chat_delivery_service/pkg/logger"

	"go.uber.org/zap"
)

// channel naming: one channel per chat plus one personal channel per user
func chatChannel(chatID string) string { return "chat:" + chatID }
func userChannel(userID string) string { return "user:" + userID }

// Transport is the write side of one live client connection.
type Transport interface {
	WriteJSON(v interface{}) error
}

// outboundBuffer frames queued per connection before forwards get dropped.
// A dropped forward is recovered by inbox sync, never by broker replay.
const outboundBuffer = 256

// ConnectionManager owns the per-process mapping from user identity to live
// transport connection, subscribed channel set and listener task. One live
// connection per user per process, a newer connection replaces the older one.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*userConn

	pubsub     repository.PubSub
	membership repository.MembershipRepository
	syncUC     *InboxSyncUseCase

	presence    database.RedisRepository[int64]
	presenceTTL time.Duration
}

// NewConnectionManager create ConnectionManager
func NewConnectionManager(pubsub repository.PubSub, membership repository.MembershipRepository, syncUC *InboxSyncUseCase) *ConnectionManager {
	return &ConnectionManager{
		conns:      make(map[string]*userConn),
		pubsub:     pubsub,
		membership: membership,
		syncUC:     syncUC,
	}
}

// WithPresence enables online markers in redis, visible to other processes.
func (cm *ConnectionManager) WithPresence(repo database.RedisRepository[int64], ttl time.Duration) *ConnectionManager {
	cm.presence = repo
	cm.presenceTTL = ttl
	return cm
}

func presenceKey(userID string) string { return "online:" + userID }

type userConn struct {
	userID    string
	transport Transport

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool

	sub      repository.Subscription
	outbound chan domain.Frame
	cancel   context.CancelFunc
}

// enqueue queues one frame for the writer task. Drops when the connection is
// gone or the queue is full.
func (c *userConn) enqueue(f domain.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbound <- f:
		return true
	default:
		logger.Log.Warn("outbound queue full, frame dropped",
			zap.String("userID", c.userID), zap.String("type", string(f.Type)))
		return false
	}
}

func (c *userConn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.outbound)
	c.mu.Unlock()

	c.cancel()
	if err := c.sub.Close(); err != nil {
		logger.Log.Warn("close subscription", zap.String("userID", c.userID), zap.Error(err))
	}
}

func (c *userConn) subscribedChats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	chats := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		if len(ch) > 5 && ch[:5] == "chat:" {
			chats = append(chats, ch[5:])
		}
	}
	return chats
}

// Connect registers the connection, subscribes the personal channel plus one
// channel per chat membership, starts the listener and writer tasks and
// triggers inbox catch-up. An existing connection for the same user on this
// process is torn down first.
func (cm *ConnectionManager) Connect(ctx context.Context, userID string, transport Transport) ([]string, error) {
	chats, err := cm.membership.ChatsForParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}

	channels := make([]string, 0, len(chats)+1)
	channels = append(channels, userChannel(userID))
	chanSet := map[string]struct{}{userChannel(userID): {}}
	for _, chatID := range chats {
		channels = append(channels, chatChannel(chatID))
		chanSet[chatChannel(chatID)] = struct{}{}
	}

	// listener lifetime is bound to this connection, not the request ctx
	listenCtx, cancel := context.WithCancel(context.Background())
	sub, err := cm.pubsub.Subscribe(listenCtx, channels...)
	if err != nil {
		cancel()
		return nil, err
	}

	conn := &userConn{
		userID:    userID,
		transport: transport,
		channels:  chanSet,
		sub:       sub,
		outbound:  make(chan domain.Frame, outboundBuffer),
		cancel:    cancel,
	}

	cm.mu.Lock()
	old := cm.conns[userID]
	cm.conns[userID] = conn
	cm.mu.Unlock()
	if old != nil {
		logger.Log.Info("replacing existing connection", zap.String("userID", userID))
		old.shutdown()
	}

	go cm.writeLoop(conn)
	go cm.listenLoop(conn)

	conn.enqueue(domain.Frame{
		Type:            domain.FrameConnected,
		UserID:          userID,
		SubscribedChats: chats,
	})

	// catch-up runs beside the live path, duplicates are absorbed by the
	// client's upsert-by-id merge
	go func() {
		if err := cm.syncUC.DeliverPending(listenCtx, userID, conn.enqueue); err != nil {
			logger.Log.Error("inbox catch-up failed", zap.String("userID", userID), zap.Error(err))
		}
	}()

	if cm.presence != nil {
		if err := cm.presence.Set(ctx, presenceKey(userID), time.Now().UnixMilli(), cm.presenceTTL); err != nil {
			logger.Log.Warn("presence marker set failed", zap.String("userID", userID), zap.Error(err))
		}
	}

	logger.Log.Info("user connected", zap.String("userID", userID), zap.Int("chats", len(chats)))
	return chats, nil
}

// writeLoop is the only writer to the transport connection.
func (cm *ConnectionManager) writeLoop(conn *userConn) {
	for f := range conn.outbound {
		if err := conn.transport.WriteJSON(f); err != nil {
			logger.Log.Warn("transport write failed",
				zap.String("userID", conn.userID), zap.Error(err))
			// keep draining so enqueue never blocks, the read side will
			// observe the dead connection and disconnect
		}
	}
}

// listenLoop bridges broker events to the transport. If the connection has
// closed underneath, frames are dropped silently.
func (cm *ConnectionManager) listenLoop(conn *userConn) {
	for ev := range conn.sub.Events() {
		var f domain.Frame
		if err := json.Unmarshal(ev.Payload, &f); err != nil {
			logger.Log.Error("broker payload decode failed",
				zap.String("channel", ev.Channel), zap.Error(err))
			continue
		}
		conn.enqueue(f)
	}
}

// Disconnect cancels the listener task, unsubscribes every channel and
// removes the entry. Idempotent.
func (cm *ConnectionManager) Disconnect(userID string) {
	cm.remove(userID, nil)
}

// DisconnectTransport removes the user's entry only while it still carries
// the given transport. The handler of a replaced connection calls this on
// exit, after replacement the entry belongs to the newer connection and must
// survive the stale teardown.
func (cm *ConnectionManager) DisconnectTransport(userID string, t Transport) {
	cm.remove(userID, t)
}

func (cm *ConnectionManager) remove(userID string, expect Transport) {
	cm.mu.Lock()
	conn, ok := cm.conns[userID]
	if ok && expect != nil && conn.transport != expect {
		ok = false
	}
	if ok {
		delete(cm.conns, userID)
	}
	cm.mu.Unlock()
	if !ok {
		return
	}
	conn.shutdown()
	if cm.presence != nil {
		if err := cm.presence.Del(context.Background(), presenceKey(userID)); err != nil {
			logger.Log.Warn("presence marker delete failed", zap.String("userID", userID), zap.Error(err))
		}
	}
	logger.Log.Info("user disconnected", zap.String("userID", userID))
}

// Subscribe adds a chat channel to a live connection, membership checked
// first. A system join event is published on the chat channel.
func (cm *ConnectionManager) Subscribe(ctx context.Context, userID, chatID string) error {
	conn, err := cm.get(userID)
	if err != nil {
		return err
	}

	ok, err := cm.membership.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}

	if err := conn.sub.Add(chatChannel(chatID)); err != nil {
		return err
	}
	conn.mu.Lock()
	conn.channels[chatChannel(chatID)] = struct{}{}
	conn.mu.Unlock()

	cm.publishSystem(ctx, chatID, userID+" joined the chat")
	return nil
}

// Unsubscribe removes a chat channel from a live connection.
func (cm *ConnectionManager) Unsubscribe(ctx context.Context, userID, chatID string) error {
	conn, err := cm.get(userID)
	if err != nil {
		return err
	}

	if err := conn.sub.Remove(chatChannel(chatID)); err != nil {
		return err
	}
	conn.mu.Lock()
	delete(conn.channels, chatChannel(chatID))
	conn.mu.Unlock()

	cm.publishSystem(ctx, chatID, userID+" left the chat")
	return nil
}

// Push queues a frame for a locally connected user, false if the user has no
// live connection on this process.
func (cm *ConnectionManager) Push(userID string, f domain.Frame) bool {
	cm.mu.RLock()
	conn, ok := cm.conns[userID]
	cm.mu.RUnlock()
	if !ok {
		return false
	}
	return conn.enqueue(f)
}

// SubscribedChats returns the chat set of a live connection.
func (cm *ConnectionManager) SubscribedChats(userID string) []string {
	cm.mu.RLock()
	conn, ok := cm.conns[userID]
	cm.mu.RUnlock()
	if !ok {
		return nil
	}
	return conn.subscribedChats()
}

// Stats definition /ws/stats payload
type Stats struct {
	TotalConnections int      `json:"total_connections"`
	ActiveUsers      []string `json:"active_users"`
}

// ConnectionStats snapshot of this process' live connections
func (cm *ConnectionManager) ConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	users := make([]string, 0, len(cm.conns))
	for userID := range cm.conns {
		users = append(users, userID)
	}
	return Stats{TotalConnections: len(cm.conns), ActiveUsers: users}
}

func (cm *ConnectionManager) get(userID string) (*userConn, error) {
	cm.mu.RLock()
	conn, ok := cm.conns[userID]
	cm.mu.RUnlock()
	if !ok {
		return nil, ErrNotConnected
	}
	return conn, nil
}

func (cm *ConnectionManager) publishSystem(ctx context.Context, chatID, content string) {
	f := domain.Frame{Type: domain.FrameSystem, ChatID: chatID, Content: content}
	if err := cm.pubsub.Publish(ctx, chatChannel(chatID), f); err != nil {
		logger.Log.Warn("system event publish failed", zap.String("chatID", chatID), zap.Error(err))
	}
}
