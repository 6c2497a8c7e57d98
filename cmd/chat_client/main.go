package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chatclient"
	"chat_delivery_service/pkg/logger"
	"chat_delivery_service/pkg/token"
)

// terminal client: /sub <chat>, /unsub <chat>, /sync, /chats, anything else
// sends to the current chat
func main() {
	var (
		server = flag.String("server", "localhost:8080", "chat service host:port")
		userID = flag.String("user", "", "user id to connect as")
		chatID = flag.String("chat", "", "chat to send to")
	)
	flag.Parse()
	if *userID == "" {
		log.Fatal("missing -user")
	}

	logger.SetNewNop()

	jwt, err := token.GenerateJWT(*userID, string(token.RoleMember), "chat_client")
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}

	client := chatclient.New(chatclient.Options{
		URL:     fmt.Sprintf("ws://%s/ws?auth=%s", *server, jwt),
		SyncURL: fmt.Sprintf("http://%s/sync?auth=%s", *server, jwt),
		OnMessage: func(m domain.Message) {
			fmt.Printf("[%s] %s: %s\n", m.ChatID, m.SenderID, m.Content)
		},
		OnState: func(s chatclient.State) {
			fmt.Printf("* connection %s\n", s)
		},
	})
	defer client.Close()

	if err := client.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/sync":
			n, err := client.SyncInbox()
			if err != nil {
				fmt.Printf("* sync failed: %v\n", err)
				continue
			}
			fmt.Printf("* synced %d pending messages\n", n)
		case line == "/chats":
			fmt.Printf("* subscribed: %v\n", client.SubscribedChats())
		case strings.HasPrefix(line, "/sub "):
			*chatID = strings.TrimPrefix(line, "/sub ")
			if err := client.Subscribe(*chatID); err != nil {
				fmt.Printf("* subscribe failed: %v\n", err)
			}
		case strings.HasPrefix(line, "/unsub "):
			if err := client.Unsubscribe(strings.TrimPrefix(line, "/unsub ")); err != nil {
				fmt.Printf("* unsubscribe failed: %v\n", err)
			}
		default:
			if *chatID == "" {
				fmt.Println("* no chat selected, use /sub <chat>")
				continue
			}
			if err := client.SendMessage(*chatID, line); err != nil {
				fmt.Printf("* send failed: %v\n", err)
			}
		}
	}
}
