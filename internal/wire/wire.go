package wire

import (
	"Murmur/internal/api"
	"Murmur/internal/api/config"
	"Murmur/internal/api/handler"
	"Murmur/internal/api/middleware"
	"Murmur/internal/gateway"
	"Murmur/internal/job"
	"Murmur/internal/pkg/changefeed"
	"Murmur/internal/pkg/cron"
	"Murmur/internal/pkg/kafka"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/repository"
	"Murmur/internal/service"
	"context"

	"github.com/gin-gonic/gin"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router         *gin.Engine
	DB             *gorm.DB
	Hub            *changefeed.Hub
	Sessions       *service.SessionManager
	CronMgr        *cron.Manager
	KafkaManager   *kafka.ConsumerManager
	MessageWatcher *mongo.MessageWatcher
}

func BuildApplication(ctx context.Context, db *gorm.DB, mongoDB *mongodriver.Database, cfg *config.Config) (*ApplicationContainer, error) {
	hub := changefeed.NewHub()

	roomRepo := repository.NewRoomRepo(db)
	readCursorRepo := repository.NewReadCursorRepo(db)
	presenceRepo := repository.NewPresenceRepo(db)
	messageRepo := mongo.NewMessageRepo(mongoDB)

	store := gateway.NewStore(roomRepo, readCursorRepo, presenceRepo, messageRepo, hub)
	queryCache := redis.NewQueryCache(redis.GetRdbClient(), cfg.Sync.QueryCacheTTL)
	sessions := service.NewSessionManager(ctx, store, queryCache, cfg.Sync)

	authenticate := func(ctx context.Context, token string) (uint64, error) {
		claims, _, err := middleware.Authenticate(ctx, token)
		if err != nil {
			return 0, err
		}
		return claims.UserID, nil
	}

	handlers := &api.HandlersGroup{
		RoomHandler:    handler.NewRoomHandler(sessions),
		UnreadHandler:  handler.NewUnreadHandler(sessions),
		SessionHandler: handler.NewSessionHandler(sessions, redis.RevokeToken),
		WsHandler:      handler.NewWsHandler(sessions, authenticate),
	}

	router := api.SetupRouter(handlers, cfg)

	presenceSweepJob := job.NewPresenceSweepJob(store, cfg.Sync.PresenceTTL)
	sessionReapJob := job.NewSessionReapJob(sessions, cfg.Sync.SessionIdleTimeout)
	cronMgr := cron.NewCronManager(cfg.Sync, presenceSweepJob, sessionReapJob)

	kafkaMgr, err := kafka.NewConsumerManager(cfg, hub)
	if err != nil {
		return nil, err
	}

	return &ApplicationContainer{
		Router:         router,
		DB:             db,
		Hub:            hub,
		Sessions:       sessions,
		CronMgr:        cronMgr,
		KafkaManager:   kafkaMgr,
		MessageWatcher: mongo.NewMessageWatcher(mongoDB, hub),
	}, nil
}
