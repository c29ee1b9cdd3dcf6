package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/blobstore"
	"social-publisher/infrastructure/cache"
	instagramclient "social-publisher/infrastructure/clients/instagram"
	tiktokclient "social-publisher/infrastructure/clients/tiktok"
	youtubeclient "social-publisher/infrastructure/clients/youtube"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/crypto"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/persistence"
	"social-publisher/infrastructure/pubsub"
	"social-publisher/infrastructure/queue"
	"social-publisher/infrastructure/realtime"
	"social-publisher/infrastructure/servicebus"
	httpHandler "social-publisher/interfaces/http"
	"social-publisher/server"
	"social-publisher/usecase"
)

var httpServer *http.Server

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	// Load env from files (non-destructive; OS env still has precedence)
	configuration.LoadEnvFromFile("config.env", ".env")

	app := configuration.C.App

	psqlDb, err := persistence.NewPostgreSQLDB()
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Cannot connect to PostgreSQL")
		os.Exit(1)
	}
	if err := persistence.EnsureSocialSchema(psqlDb); err != nil {
		logger.GetLogger().WithField("error", err).Error("Failed ensuring social schema")
		os.Exit(1)
	}
	logger.GetLogger().WithField("PSQLDb", psqlDb.Ping()).Info("Database connected.")

	mongoDb, err := persistence.NewMongoDb(
		configuration.C.Database.Mongo.Host,
		configuration.C.Database.Mongo.Port,
		configuration.C.Database.Mongo.User,
		configuration.C.Database.Mongo.Password,
		configuration.C.Database.Mongo.Name,
	)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB not available - upload logs will not be persisted")
		mongoDb = nil
	} else if err := mongoDb.Ping(ctx, nil); err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB ping failed - upload logs will not be persisted")
		mongoDb = nil
	} else {
		logger.GetLogger().Info("MongoDB connected successfully")
	}

	// The fast store backs the queue, locks and quota counters. Without Redis
	// a single replica can still run on the in-process store.
	var fastStore repository.IFastStore
	redisClient, err := cache.NewCache(
		ctx,
		fmt.Sprintf("%s:%s", configuration.C.RedisClient.Host, configuration.C.RedisClient.Port),
		configuration.C.RedisClient.Username,
		configuration.C.RedisClient.Password,
	)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Redis not available - falling back to in-memory store (single replica only)")
		fastStore = cache.NewMemoryStore()
	} else {
		fastStore = cache.NewRedisFastStore(redisClient)
		logger.GetLogger().Info("Redis client initialized successfully.")
	}

	pubSubClient, err := pubsub.NewPubSub(ctx, configuration.C.Pubsub.ProjectID)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Pub/Sub not available - outcome events disabled")
		pubSubClient = nil
	}
	publishEvents := pubsub.NewPublishEvents(pubSubClient, configuration.C.Pubsub.Topic)

	azServiceBusClient, err := servicebus.NewServiceBus(ctx, configuration.C.ServiceBus.Namespace)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Azure Service Bus not available - failure alerts disabled")
		azServiceBusClient = nil
	}
	alertSender := servicebus.NewAlertSender(azServiceBusClient, configuration.C.ServiceBus.Queue)

	sealer, err := crypto.NewTokenSealer(configuration.C.Crypto.Keys, configuration.C.Crypto.CurrentVersion)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Token encryption keys missing or invalid")
		os.Exit(1)
	}

	blob := configuration.C.BlobStore
	videoStore, err := blobstore.NewS3VideoStore(blob.Endpoint, blob.Region, blob.Bucket, blob.AccessKey, blob.SecretKey)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Blob store initialization failed")
		os.Exit(1)
	}

	social := configuration.C.Social
	youtubeQuota := cache.NewDailyQuota(fastStore, model.PlatformYouTube,
		social.YouTube.QuotaDailyLimit, social.YouTube.QuotaUploadCost)
	publishers := map[model.Platform]repository.IPlatformPublisher{
		model.PlatformYouTube: youtubeclient.NewPublisher(
			social.YouTube.ClientID, social.YouTube.ClientSecret, social.YouTube.RedirectURI, youtubeQuota),
		model.PlatformTikTok: tiktokclient.NewPublisher(
			social.TikTok.ClientID, social.TikTok.ClientSecret, social.TikTok.RedirectURI, fastStore),
		model.PlatformInstagram: instagramclient.NewPublisher(
			social.Instagram.ClientID, social.Instagram.ClientSecret, social.Instagram.RedirectURI),
	}

	publishQueue := queue.NewPublishQueue(fastStore, map[model.Platform]queue.RateLimit{
		model.PlatformYouTube:   {Limit: int64(social.YouTube.RateLimit), Window: time.Duration(social.YouTube.RateWindowSeconds) * time.Second},
		model.PlatformTikTok:    {Limit: int64(social.TikTok.RateLimit), Window: time.Duration(social.TikTok.RateWindowSeconds) * time.Second},
		model.PlatformInstagram: {Limit: int64(social.Instagram.RateLimit), Window: time.Duration(social.Instagram.RateWindowSeconds) * time.Second},
	})

	postRepository := persistence.NewScheduledPostRepository(psqlDb)
	accountRepository := persistence.NewConnectedAccountRepository(psqlDb)
	notificationRepository := persistence.NewNotificationRepository(psqlDb)
	uploadLogRepository := persistence.NewUploadLogRepository(mongoDb, configuration.C.Database.Mongo.Name)

	refreshLock := cache.NewRefreshLock(fastStore, time.Duration(social.Worker.RefreshLockTTLSeconds)*time.Second)
	tokenRefresher := usecase.NewTokenRefresher(accountRepository, sealer, refreshLock, publishers)

	hub := realtime.NewPostHub()
	scheduleUsecase := usecase.NewScheduleUsecase(
		postRepository, accountRepository, publishQueue, uploadLogRepository, publishers, sealer, hub)

	postHandler := httpHandler.NewSocialPostHandler(scheduleUsecase)
	accountHandler := httpHandler.NewSocialAccountHandler(scheduleUsecase)
	router := server.InitiateRouter(postHandler, accountHandler, hub)

	// One worker loop per platform; per-platform concurrency from config.
	platformConfigs := map[model.Platform]configuration.PlatformConfig{
		model.PlatformYouTube:   social.YouTube,
		model.PlatformTikTok:    social.TikTok,
		model.PlatformInstagram: social.Instagram,
	}
	for _, platform := range model.Platforms {
		platform := platform
		worker := usecase.NewPublishWorker(
			postRepository, accountRepository, publishQueue, uploadLogRepository, notificationRepository,
			videoStore, tokenRefresher, sealer, publishers, publishEvents, alertSender, hub,
			usecase.WorkerConfig{
				PollInterval: time.Duration(social.Worker.PollIntervalSeconds) * time.Second,
				Concurrency:  platformConfigs[platform].Concurrency,
				MaxAttempts:  social.Worker.MaxAttempts,
				RetryBackoff: time.Duration(social.Worker.RetryBackoffSeconds) * time.Second,
				LockDuration: time.Duration(social.Worker.LockDurationSeconds) * time.Second,
			},
		)
		g.Go(func() error {
			err := worker.Run(ctx, platform)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	logger.GetLogger().WithField("port", app.Port).Info("Starting application")
	g.Go(func() error {
		httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", app.Port),
			Handler: router,
		}
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	if err := g.Wait(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}
