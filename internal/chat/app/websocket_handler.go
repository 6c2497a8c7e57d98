package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/logger"
	"chat_delivery_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// pingInterval server-side heartbeat period
const pingInterval = 30 * time.Second

// ChatWebsocketHandler 可包含所有需要的 UseCase
type ChatWebsocketHandler struct {
	cm     *ConnectionManager
	sendUC *SendMessageUseCase
	syncUC *InboxSyncUseCase
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(cm *ConnectionManager, sendUC *SendMessageUseCase, syncUC *InboxSyncUseCase) *ChatWebsocketHandler {
	return &ChatWebsocketHandler{cm: cm, sendUC: sendUC, syncUC: syncUC}
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	userID, ok := conn.Locals(middlewares.TokenMemberID).(string)
	if !ok || userID == "" {
		logger.Log.Warn("websocket connection without identity")
		conn.Close()
		return
	}

	if _, err := h.cm.Connect(ctx, userID, conn); err != nil {
		logger.Log.Error("connect failed", zap.String("userID", userID), zap.Error(err))
		conn.Close()
		return
	}

	ticker := time.NewTicker(pingInterval)
	pingDone := make(chan struct{})

	defer func() {
		ticker.Stop()
		close(pingDone)
		h.cm.DisconnectTransport(userID, conn)
		conn.Close()
		logger.Log.Info("websocket close", zap.String("userID", userID))
	}()

	conn.SetCloseHandler(func(code int, text string) error {
		logger.Log.Infof("WebSocket closed:", conn.RemoteAddr())
		return nil
	})

	conn.SetPongHandler(func(appData string) error {
		return nil
	})

	// transport-level ping, distinct from the ping frame in the protocol
	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					logger.Log.Errorf("ping error:", err)
					return
				}
			case <-pingDone:
				return
			}
		}
	}()

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Infof("connection closed:", err)
			} else {
				logger.Log.Errorf("websocket read error:", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			h.pushError(userID, "unknown message type")
			continue
		}
		h.dispatchFrame(ctx, userID, raw)
	}
}

func (h *ChatWebsocketHandler) dispatchFrame(ctx context.Context, userID string, raw []byte) {
	var f domain.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.pushError(userID, "invalid JSON format")
		return
	}

	switch f.Type {
	// 傳送訊息: 寫入訊息與 inbox 後發布到聊天頻道
	case domain.FrameMessage:
		msg, err := h.sendUC.Execute(ctx, userID, f.ChatID, f.Content, nil)
		if err != nil {
			logger.Log.Error("send failed",
				zap.String("userID", userID), zap.String("chatID", f.ChatID), zap.Error(err))
			h.pushError(userID, sendErrorText(err))
			return
		}
		// direct reply is the sender's source of truth, not the broker echo
		h.cm.Push(userID, domain.MessageFrame(msg))

	// 讀取確認: 清除 inbox entry
	case domain.FrameAckMessageReceived:
		if f.MessageID == "" {
			h.pushError(userID, "ack without message_id")
			return
		}
		if err := h.syncUC.Ack(ctx, userID, f.MessageID); err != nil {
			// tolerated, the entry redelivers and the client dedupes
			logger.Log.Warn("ack failed",
				zap.String("userID", userID), zap.String("messageID", f.MessageID), zap.Error(err))
		}

	// 中途加入聊天室
	case domain.FrameSubscribe:
		err := h.cm.Subscribe(ctx, userID, f.ChatID)
		h.cm.Push(userID, domain.Frame{
			Type:    domain.FrameSubscribed,
			ChatID:  f.ChatID,
			Success: domain.SuccessFlag(err == nil),
		})
		if err != nil {
			logger.Log.Warn("subscribe rejected",
				zap.String("userID", userID), zap.String("chatID", f.ChatID), zap.Error(err))
		}

	// 中途離開聊天室
	case domain.FrameUnsubscribe:
		err := h.cm.Unsubscribe(ctx, userID, f.ChatID)
		h.cm.Push(userID, domain.Frame{
			Type:    domain.FrameUnsubscribed,
			ChatID:  f.ChatID,
			Success: domain.SuccessFlag(err == nil),
		})

	case domain.FramePing:
		h.cm.Push(userID, domain.Frame{
			Type:      domain.FramePong,
			Timestamp: time.Now().UnixMilli(),
		})

	default:
		h.pushError(userID, "unknown frame type")
	}
}

func (h *ChatWebsocketHandler) pushError(userID, content string) {
	h.cm.Push(userID, domain.Frame{Type: domain.FrameError, Content: content})
}

// sendErrorText validation failures go back verbatim, everything else is a
// generic retry hint
func sendErrorText(err error) string {
	if errors.Is(err, ErrNotParticipant) || errors.Is(err, ErrEmptyContent) {
		return err.Error()
	}
	return "message could not be stored, retry"
}
