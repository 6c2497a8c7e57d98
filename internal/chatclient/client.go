// Package chatclient implements the consuming side of the chat delivery
// protocol: transport lifecycle with reconnect backoff, duplicate-free local
// message view and the acknowledgement protocol.
package chatclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chat_delivery_service/internal/chat/domain"

	"github.com/gorilla/websocket"
)

// State definition transport lifecycle state
type State int32

const (
	// StateDisconnected no transport, also the terminal give-up state
	StateDisconnected State = iota
	// StateConnecting dial in flight
	StateConnecting
	// StateOpen transport established
	StateOpen
	// StateReconnecting waiting out the backoff delay
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var (
	// ErrClientClosed the session was explicitly torn down
	ErrClientClosed = errors.New("chat client is closed")
	// ErrNotOpen no open transport to write on
	ErrNotOpen = errors.New("connection is not open")
	// ErrRetriesExhausted reconnect attempts used up, session is terminal
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5
)

// Options client session configuration
type Options struct {
	// URL websocket endpoint, token already in the query if required
	URL string
	// SyncURL REST catch-up endpoint, optional
	SyncURL string
	// BaseDelay first reconnect delay, doubles per attempt. Default 1s.
	BaseDelay time.Duration
	// MaxAttempts reconnects before giving up. Default 5.
	MaxAttempts int
	// OnMessage invoked after a message merged into the local store
	OnMessage func(domain.Message)
	// OnState invoked on lifecycle transitions
	OnState func(State)

	Dialer     *websocket.Dialer
	HTTPClient *http.Client
}

// Client one chat session over a persistent connection. All inbound
// messages, live or catch-up, are merged by message id so at-least-once
// delivery never shows a duplicate.
type Client struct {
	url         string
	syncURL     string
	baseDelay   time.Duration
	maxAttempts int
	dialer      *websocket.Dialer
	httpClient  *http.Client
	onMessage   func(domain.Message)
	onState     func(State)

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	subs    map[string]struct{}
	attempt int
	timer   *time.Timer
	closed  bool
	lastErr error

	// single-writer discipline on the websocket
	writeMu sync.Mutex

	store *MessageStore
}

// New create a chat client session, initially disconnected
func New(opts Options) *Client {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		url:         opts.URL,
		syncURL:     opts.SyncURL,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		dialer:      opts.Dialer,
		httpClient:  opts.HTTPClient,
		onMessage:   opts.OnMessage,
		onState:     opts.OnState,
		subs:        make(map[string]struct{}),
		store:       NewMessageStore(),
	}
}

// Connect dials the server. On failure the reconnect policy takes over, the
// returned error only reports this attempt.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		c.scheduleReconnect(err)
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	old := c.conn
	c.conn = conn
	c.attempt = 0 // any successful open resets the backoff counter
	chats := make([]string, 0, len(c.subs))
	for chatID := range c.subs {
		chats = append(chats, chatID)
	}
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go c.readLoop(conn)

	// subscriptions are not preserved server-side beyond what membership
	// lookup rebuilds, re-announce the set this session held
	for _, chatID := range chats {
		if err := c.writeFrame(domain.Frame{Type: domain.FrameSubscribe, ChatID: chatID}); err != nil {
			break
		}
	}
	return nil
}

// Close tears the session down for good: cancels any pending reconnect
// timer and closes the transport. A closed client never reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// SendMessage transmits a message frame, optimistic: it does not wait for
// the server echo.
func (c *Client) SendMessage(chatID, content string) error {
	return c.writeFrame(domain.Frame{
		Type:    domain.FrameMessage,
		ChatID:  chatID,
		Content: content,
	})
}

// Subscribe joins a chat channel mid-session and remembers it for
// re-subscription after a reconnect.
func (c *Client) Subscribe(chatID string) error {
	c.mu.Lock()
	c.subs[chatID] = struct{}{}
	c.mu.Unlock()
	return c.writeFrame(domain.Frame{Type: domain.FrameSubscribe, ChatID: chatID})
}

// Unsubscribe leaves a chat channel.
func (c *Client) Unsubscribe(chatID string) error {
	c.mu.Lock()
	delete(c.subs, chatID)
	c.mu.Unlock()
	return c.writeFrame(domain.Frame{Type: domain.FrameUnsubscribe, ChatID: chatID})
}

// Messages snapshot of the local view of one chat, created_at ascending.
func (c *Client) Messages(chatID string) []domain.Message {
	return c.store.Messages(chatID)
}

// State current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err last transport error, ErrRetriesExhausted once terminal.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SubscribedChats chat set this session holds.
func (c *Client) SubscribedChats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	chats := make([]string, 0, len(c.subs))
	for chatID := range c.subs {
		chats = append(chats, chatID)
	}
	return chats
}

// SyncInbox pulls the REST catch-up endpoint, merges every item and acks it
// over the open transport.
func (c *Client) SyncInbox() (int, error) {
	if c.syncURL == "" {
		return 0, errors.New("no sync endpoint configured")
	}
	resp, err := c.httpClient.Get(c.syncURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("sync returned %d", resp.StatusCode)
	}

	var list domain.InboxList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return 0, err
	}
	for i := range list.Items {
		c.ingest(list.Items[i])
	}
	return list.Count, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f domain.Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			stale := c.conn != conn
			closed := c.closed
			if !stale {
				c.conn = nil
			}
			c.mu.Unlock()
			if stale {
				return // replaced by a newer connection
			}
			if closed {
				return // clean close, user intent, no reconnect
			}
			c.scheduleReconnect(err)
			return
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f domain.Frame) {
	switch f.Type {
	case domain.FrameMessage:
		c.ingest(f.Message())
	case domain.FrameConnected:
		// server rebuilt the authoritative set from membership
		c.mu.Lock()
		c.subs = make(map[string]struct{}, len(f.SubscribedChats))
		for _, chatID := range f.SubscribedChats {
			c.subs[chatID] = struct{}{}
		}
		c.mu.Unlock()
	default:
		// system, pong, subscribed/unsubscribed, error: nothing to merge
	}
}

// ingest merges one inbound message and acknowledges it. The ack is
// fire-and-forget, a lost ack only means a redelivery later.
func (c *Client) ingest(msg domain.Message) {
	c.store.Upsert(msg)
	_ = c.writeFrame(domain.Frame{
		Type:      domain.FrameAckMessageReceived,
		MessageID: msg.MessageID,
	})
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// scheduleReconnect applies the backoff policy: delay = base << attempt,
// bounded attempts, single cancellable timer.
func (c *Client) scheduleReconnect(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.lastErr = cause
	if c.attempt >= c.maxAttempts {
		c.lastErr = ErrRetriesExhausted
		c.setStateLocked(StateDisconnected)
		return
	}
	delay := c.baseDelay << c.attempt
	c.attempt++
	c.setStateLocked(StateReconnecting)
	c.timer = time.AfterFunc(delay, func() {
		_ = c.Connect()
	})
}

func (c *Client) writeFrame(f domain.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// setStateLocked caller holds c.mu. The callback runs outside the lock.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		go c.onState(s)
	}
}
