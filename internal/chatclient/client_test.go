package chatclient

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chat_delivery_service/internal/chat/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// countingDialer counts every dial attempt
func countingDialer(dials *int32) *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDial: func(network, addr string) (net.Conn, error) {
			atomic.AddInt32(dials, 1)
			return net.Dial(network, addr)
		},
	}
}

// 測試重連次數用完後進入終止狀態
func TestClient_ReconnectExhaustion(t *testing.T) {
	// 沒有人在聽的 port
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()

	var dials int32
	client := New(Options{
		URL:       "ws://" + addr + "/ws",
		BaseDelay: 5 * time.Millisecond,
		Dialer:    countingDialer(&dials),
	})
	defer client.Close()

	assert.Error(t, client.Connect())

	assert.Eventually(t, func() bool {
		return client.State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, client.Err(), ErrRetriesExhausted)
	// 首次連線加上五次重試
	assert.Equal(t, int32(6), atomic.LoadInt32(&dials))
}

// 測試 Close 取消排程中的重連
func TestClient_CloseCancelsReconnect(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()

	var dials int32
	client := New(Options{
		URL:       "ws://" + addr + "/ws",
		BaseDelay: time.Hour, // 重連排在很久以後
		Dialer:    countingDialer(&dials),
	})

	assert.Error(t, client.Connect())
	assert.Equal(t, StateReconnecting, client.State())

	assert.NoError(t, client.Close())
	assert.Equal(t, StateDisconnected, client.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))

	// 關閉後不能再連
	assert.ErrorIs(t, client.Connect(), ErrClientClosed)
}

// 測試斷線後自動重連並重新訂閱
func TestClient_ReconnectResubscribes(t *testing.T) {
	var connCount int32
	subscribes := make(chan domain.Frame, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&connCount, 1)
		for {
			var f domain.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == domain.FrameSubscribe {
				subscribes <- f
				if n == 1 {
					// 第一條連線在收到訂閱後被伺服器切斷
					conn.Close()
					return
				}
			}
		}
	}))
	defer srv.Close()

	client := New(Options{
		URL:       wsURL(srv),
		BaseDelay: 5 * time.Millisecond,
	})
	defer client.Close()

	assert.NoError(t, client.Connect())
	assert.NoError(t, client.Subscribe("c1"))

	// 第一次訂閱
	select {
	case f := <-subscribes:
		assert.Equal(t, "c1", f.ChatID)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe frame never arrived")
	}

	// 重連後自動補發訂閱
	select {
	case f := <-subscribes:
		assert.Equal(t, "c1", f.ChatID)
	case <-time.After(5 * time.Second):
		t.Fatal("resubscribe after reconnect never arrived")
	}

	assert.Eventually(t, func() bool {
		return client.State() == StateOpen
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&connCount), int32(2))
}

// 測試重複送達只留一筆並逐筆回 ack
func TestClient_MergesDuplicatesAndAcks(t *testing.T) {
	acks := make(chan domain.Frame, 8)
	msg := domain.Message{MessageID: "m1", ChatID: "c1", SenderID: "u2", Content: "hi", CreatedAt: 100}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// at-least-once: 同一訊息送兩次
		frame := domain.MessageFrame(&msg)
		conn.WriteJSON(frame)
		conn.WriteJSON(frame)
		for {
			var f domain.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == domain.FrameAckMessageReceived {
				acks <- f
			}
		}
	}))
	defer srv.Close()

	var delivered int32
	client := New(Options{
		URL: wsURL(srv),
		OnMessage: func(domain.Message) {
			atomic.AddInt32(&delivered, 1)
		},
	})
	defer client.Close()

	assert.NoError(t, client.Connect())

	for i := 0; i < 2; i++ {
		select {
		case f := <-acks:
			assert.Equal(t, "m1", f.MessageID)
		case <-time.After(2 * time.Second):
			t.Fatal("ack never arrived")
		}
	}

	assert.Equal(t, 1, client.store.Len("c1"))
	assert.Equal(t, "hi", client.Messages("c1")[0].Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&delivered))
}

// 測試 connected frame 帶回伺服器端重建的訂閱集合
func TestClient_ConnectedFrameSetsSubscriptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(domain.Frame{
			Type:            domain.FrameConnected,
			UserID:          "u1",
			SubscribedChats: []string{"c1", "c2"},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := New(Options{URL: wsURL(srv)})
	defer client.Close()

	assert.NoError(t, client.Connect())
	assert.Eventually(t, func() bool {
		chats := client.SubscribedChats()
		return len(chats) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"c1", "c2"}, client.SubscribedChats())
}

// 測試 REST 補送: 拉下 inbox 並合併進本地 view
func TestClient_SyncInbox(t *testing.T) {
	list := domain.InboxList{
		Items: []domain.Message{
			{MessageID: "m1", ChatID: "c1", CreatedAt: 100, Content: "one"},
			{MessageID: "m2", ChatID: "c1", CreatedAt: 200, Content: "two"},
		},
		Count:       2,
		RecipientID: "u1",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(list)
	}))
	defer srv.Close()

	client := New(Options{URL: "ws://unused", SyncURL: srv.URL + "/sync"})
	defer client.Close()

	n, err := client.SyncInbox()
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	msgs := client.Messages("c1")
	assert.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)

	// 沒開連線時 ack 傳不出去，但補送本身要成功
	assert.Equal(t, StateDisconnected, client.State())
}

// 測試沒有連線時送訊息會失敗
func TestClient_SendMessageRequiresOpen(t *testing.T) {
	client := New(Options{URL: "ws://unused"})
	defer client.Close()

	assert.ErrorIs(t, client.SendMessage("c1", "hi"), ErrNotOpen)
}
