package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/keyhaven/messaging-service/internal/api"
	"github.com/keyhaven/messaging-service/internal/auth"
	"github.com/keyhaven/messaging-service/internal/clients"
	cfgpkg "github.com/keyhaven/messaging-service/internal/config"
	"github.com/keyhaven/messaging-service/internal/events"
	"github.com/keyhaven/messaging-service/internal/logger"
	"github.com/keyhaven/messaging-service/internal/notify"
	"github.com/keyhaven/messaging-service/internal/service"
	"github.com/keyhaven/messaging-service/internal/store"
	"github.com/keyhaven/messaging-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := cfgpkg.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(cfg.App.Env != "production")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zlog.Sync()

	// stores
	var (
		threads  store.ThreadStore
		messages store.MessageStore
	)
	if cfg.Storage.Driver == "memory" {
		threads, messages = store.NewMemory()
		zlog.Warn("running with in-memory storage; data is not persisted")
	} else {
		mc, err := store.NewMongoClient(cfg.Mongo.URI)
		if err != nil {
			zlog.Fatalw("mongo init", "err", err)
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
		db := mc.Database(cfg.Mongo.Database)
		threads = store.NewMongoThreadStore(db.Collection(cfg.Mongo.ThreadsCollection))
		messages = store.NewMongoMessageStore(db.Collection(cfg.Mongo.MessagesCollection))
	}

	// redis: rate limiting + cross-instance event fan-out
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	// collaborators
	disc, err := clients.NewDiscovery(cfg.Services.ConsulAddr, map[string]string{
		"user-service":     cfg.Services.UserServiceURL,
		"property-service": cfg.Services.PropertyServiceURL,
	}, zlog)
	if err != nil {
		zlog.Fatalw("discovery init", "err", err)
	}
	identity := clients.NewHTTPIdentity(disc, zlog)
	property := clients.NewHTTPProperty(disc, zlog)

	// realtime + durable events
	hub := ws.NewHub()
	fanout := notify.NewFanout(hub, rdb, zlog)
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	go fanout.Run(subCtx)

	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zlog)
		defer kp.Close()
		publisher = kp
	} else {
		publisher = events.Discard()
	}

	svc := service.NewConversationService(threads, messages, identity, property, fanout, publisher, zlog)

	// auth
	var jv *auth.Validator
	if cfg.JWT.Algorithm == "RS256" {
		jv, err = auth.NewRS256Validator(cfg.JWT.PublicKeyPath)
	} else {
		jv, err = auth.NewHS256Validator(cfg.JWT.Secret)
	}
	if err != nil {
		zlog.Fatalw("jwt validator init", "err", err)
	}

	app := api.NewServer(cfg, svc, hub, jv, rdb, zlog)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.App.Port)
		zlog.Infow("messaging service started", "addr", addr)
		errs <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		zlog.Fatalw("server error", "err", err)
	case sig := <-quit:
		zlog.Infow("signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(ctx)
	zlog.Info("messaging service stopped")
}
