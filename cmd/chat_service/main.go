package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_delivery_service/internal/chat/app"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/internal/chat/router"
	"chat_delivery_service/pkg/config"
	"chat_delivery_service/pkg/database"
	"chat_delivery_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	cfg := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)

	// 2. 建立 Mongo 連線 (存訊息)
	ctx := context.Background()
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    uri,
			RetryCount:    cfg.MongoSQL.RetryCount,
			RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval),
		},
		cfg.MongoSQL.Database)
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to mongoDB database after retries",
			zap.String("address", fmt.Sprintf("[%s]", uri)),
			zap.Error(err),
		)
	}
	defer mongo.Close(ctx)

	// 3. 建立 Redis 連線 (Pub/Sub 與在線狀態)
	masterName, sentinel := config.GetRedisSetting()
	redisClient, err := database.NewRedisClient(masterName, sentinel, cfg.Redis.RedisDB)
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
	}

	// 4. 建立 DynamoDB 連線 (inbox 與 chat 成員)
	dynamoClient, err := database.NewDynamoDB(ctx, database.DynamoConnection{
		Region:        cfg.DynamoDB.Region,
		Endpoint:      cfg.DynamoDB.Endpoint,
		RetryCount:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		logger.Log.Fatal(fmt.Sprintf("connect dynamodb err : %v", err))
	}

	// 5. 初始化 Repository
	msgRepo := repository.NewMongoMessageRepository(mongo.Database)                                // MongoDB
	inboxRepo := repository.NewDynamoInboxRepository(dynamoClient, cfg.DynamoDB.InboxTable)        // DynamoDB
	membership := repository.NewDynamoMembershipRepository(dynamoClient, cfg.DynamoDB.ParticipantsTable)
	pub := repository.NewRedisPubSub(redisClient)
	presence := database.NewRedisRepository[int64](redisClient)

	// 6. 初始化 UseCases
	syncUC := app.NewInboxSyncUseCase(inboxRepo, msgRepo)
	sendUC := app.NewSendMessageUseCase(membership, msgRepo, inboxRepo, pub)
	cm := app.NewConnectionManager(pub, membership, syncUC).WithPresence(presence, 5*time.Minute)

	// 7. 啟動上傳完成事件 consumer
	consumer := app.NewUploadCompletionConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, msgRepo, pub)
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	go func() {
		if err := consumer.Run(consumerCtx); err != nil {
			logger.Log.Error("upload consumer stopped", zap.Error(err))
		}
	}()

	// 8. 啟動 Fiber
	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))

	// 注册路由
	router.RegisterRoutes(r, app.NewChatWebsocketHandler(cm, sendUC, syncUC), syncUC, cm)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		stopConsumer()
		_ = r.Shutdown()
	}()

	// Listen
	port := ":" + cfg.Port
	log.Printf("Chat Delivery Service listening on %s", port)
	if err := r.Listen(port); err != nil {
		log.Fatalf("Failed to start Fiber: %v", err)
	}
}
