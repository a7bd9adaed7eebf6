package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/common/db"
	commonmw "algoforge/internal/common/http/middleware"
	"algoforge/internal/common/mq"
	"algoforge/internal/common/ratelimit"
	"algoforge/internal/common/storage"
	fbcontroller "algoforge/internal/feedback/controller"
	fbservice "algoforge/internal/feedback/service"
	judgecache "algoforge/internal/judge/cache"
	judgecontroller "algoforge/internal/judge/controller"
	"algoforge/internal/judge/executor"
	judgerepo "algoforge/internal/judge/repository"
	judgeservice "algoforge/internal/judge/service"
	probcontroller "algoforge/internal/problem/controller"
	probrepo "algoforge/internal/problem/repository"
	probservice "algoforge/internal/problem/service"
	reccontroller "algoforge/internal/recommend/controller"
	recservice "algoforge/internal/recommend/service"
	statscontroller "algoforge/internal/stats/controller"
	statsrepo "algoforge/internal/stats/repository"
	statsservice "algoforge/internal/stats/service"
	subcontroller "algoforge/internal/submit/controller"
	subrepo "algoforge/internal/submit/repository"
	subservice "algoforge/internal/submit/service"
	usercontroller "algoforge/internal/user/controller"
	userrepo "algoforge/internal/user/repository"
	userservice "algoforge/internal/user/service"
	"algoforge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/server.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	dbProvider := db.NewManager(mysqlDB)

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	// Statistics.
	statsService := statsservice.NewStatsService(statsrepo.NewStatsRepository(redisCache, appCfg.Stats.RecordedTTL))

	// User and auth.
	users := userrepo.NewUserRepository(dbProvider, redisCache)
	sessions := userrepo.NewSessionRepository(dbProvider, redisCache)
	bans := userrepo.NewBanCacheRepository(redisCache)
	authService := userservice.NewAuthService(dbProvider, users, sessions, bans, redisCache, statsService, userservice.AuthServiceConfig{
		JWTSecret:       []byte(appCfg.Auth.JWTSecret),
		JWTIssuer:       appCfg.Auth.JWTIssuer,
		AccessTokenTTL:  appCfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: appCfg.Auth.RefreshTokenTTL,
		LoginFailTTL:    appCfg.Auth.LoginFailTTL,
		LoginFailLimit:  appCfg.Auth.LoginFailLimit,
	})

	// Problem catalog and test data packs.
	problemRepo := probrepo.NewProblemRepositoryWithTTL(dbProvider, redisCache, appCfg.Problem.CacheTTL, appCfg.Problem.CacheEmptyTTL)
	packs := probservice.NewDataPackStore(objStorage, appCfg.Problem.DataBucket)
	cleanupPublisher := probservice.NewProblemCleanupPublisher(mqClient, appCfg.Topics.ProblemCleanup, appCfg.Problem.DataBucket, appCfg.Problem.DataKeyPrefix)
	problemService := probservice.NewProblemService(problemRepo, packs, cleanupPublisher)
	cleanupConsumer := probservice.NewProblemCleanupConsumer(mqClient, problemRepo, objStorage, probservice.CleanupOptions{
		Bucket:    appCfg.Problem.DataBucket,
		KeyPrefix: appCfg.Problem.DataKeyPrefix,
		BatchSize: appCfg.Problem.CleanupBatchSize,
	})

	// Judge pipeline.
	statusRepo := judgerepo.NewStatusRepository(redisCache, appCfg.Submit.StatusTTL)
	resultPublisher := judgerepo.NewMQResultPublisher(mqClient, appCfg.Topics.Result)
	packCache := judgecache.NewDataPackCache(packs, appCfg.Judge.PackCacheTTL)
	judgeService, err := judgeservice.NewService(judgeservice.Config{
		Executor:         executor.NewGoJudgeExecutor(appCfg.Judge.ExecutorURL, appCfg.Judge.ExecutorTimeout),
		StatusRepo:       statusRepo,
		ResultPublisher:  resultPublisher,
		Problems:         problemService,
		Packs:            packCache,
		Storage:          objStorage,
		SourceBucket:     appCfg.Submit.SourceBucket,
		JudgeTimeout:     appCfg.Judge.JudgeTimeout,
		StorageTimeout:   appCfg.Judge.StorageTimeout,
		StatusTimeout:    appCfg.Judge.StatusTimeout,
		WorkerPoolSize:   appCfg.Judge.WorkerPoolSize,
		Queue:            mqClient,
		RetryTopic:       appCfg.Topics.Judge,
		DeadLetterTopic:  appCfg.Topics.JudgeDeadLetter,
		PoolRetryMax:     appCfg.Judge.PoolRetryMax,
		PoolRetryBase:    appCfg.Judge.PoolRetryBase,
		PoolRetryMaxWait: appCfg.Judge.PoolRetryMaxWait,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	// Submission intake.
	submissionRepo := subrepo.NewSubmissionRepositoryWithTTL(dbProvider, redisCache, appCfg.Submit.SubmissionCacheTTL, appCfg.Submit.SubmissionEmptyTTL)
	submitService, err := subservice.NewSubmitService(subservice.Config{
		SubmissionRepo:      submissionRepo,
		StatusRepo:          statusRepo,
		Problems:            problemService,
		Storage:             objStorage,
		MQ:                  mqClient,
		Cache:               redisCache,
		JudgeTopic:          appCfg.Topics.Judge,
		FinalResultHandlers: []subservice.FinalResultHandler{statsService},
		SourceBucket:        appCfg.Submit.SourceBucket,
		SourceKeyPrefix:     appCfg.Submit.SourceKeyPrefix,
		MaxCodeBytes:        appCfg.Submit.MaxCodeBytes,
		IdempotencyTTL:      appCfg.Submit.IdempotencyTTL,
		RateLimit:           appCfg.Submit.RateLimit,
		Timeouts:            appCfg.Submit.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init submit service failed", zap.Error(err))
		return
	}

	// Recommendations and feedback.
	recommendService := recservice.NewRecommendService(statsService, problemRepo)
	var aiClient fbservice.AIClient
	if appCfg.AI.Enabled {
		aiClient = fbservice.NewOpenAIClient(appCfg.AI.BaseURL, appCfg.AI.APIKey, appCfg.AI.Model, appCfg.AI.Timeout)
	}
	feedbackService := fbservice.NewFeedbackService(aiClient, submitService, problemService)

	// Kafka consumers.
	judgeOpts := mq.SubscribeOptions{
		ConsumerGroup:   appCfg.Judge.ConsumerGroup,
		Concurrency:     appCfg.Judge.Concurrency,
		DeadLetterTopic: appCfg.Topics.JudgeDeadLetter,
	}
	if err := mqClient.SubscribeWithOptions(context.Background(), appCfg.Topics.Judge, judgeService.HandleMessage, &judgeOpts); err != nil {
		logger.Error(context.Background(), "subscribe judge topic failed", zap.Error(err))
		return
	}
	resultOpts := mq.SubscribeOptions{ConsumerGroup: appCfg.Submit.ResultGroup}
	if err := mqClient.SubscribeWithOptions(context.Background(), appCfg.Topics.Result, submitService.HandleFinalResultMessage, &resultOpts); err != nil {
		logger.Error(context.Background(), "subscribe result topic failed", zap.Error(err))
		return
	}
	if err := cleanupConsumer.Subscribe(context.Background(), appCfg.Topics.ProblemCleanup, appCfg.Problem.CleanupGroup, nil); err != nil {
		logger.Error(context.Background(), "subscribe cleanup topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	router := buildRouter(appCfg, routerDeps{
		auth:      authService,
		limiter:   ratelimit.NewLimiter(redisCache, appCfg.Submit.RateLimit.Window, appCfg.Submit.Timeouts.Cache),
		users:     usercontroller.NewAuthController(authService),
		problems:  probcontroller.NewProblemController(problemService),
		submits:   subcontroller.NewSubmitController(submitService),
		judge:     judgecontroller.NewJudgeController(statusRepo),
		stats:     statscontroller.NewStatsController(statsService),
		recommend: reccontroller.NewRecommendController(recommendService),
		feedback:  fbcontroller.NewFeedbackController(feedbackService),
	})
	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

type routerDeps struct {
	auth      *userservice.AuthService
	limiter   *ratelimit.Limiter
	users     *usercontroller.AuthController
	problems  *probcontroller.ProblemController
	submits   *subcontroller.SubmitController
	judge     *judgecontroller.JudgeController
	stats     *statscontroller.StatsController
	recommend *reccontroller.RecommendController
	feedback  *fbcontroller.FeedbackController
}

func buildRouter(cfg *AppConfig, deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())
	router.Use(commonmw.CORSMiddleware(commonmw.CORSConfig{
		Enabled:          cfg.CORS.Enabled,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	authRequired := commonmw.AuthMiddleware(deps.auth)
	adminOnly := commonmw.AuthMiddleware(deps.auth, "admin")
	loginLimit := commonmw.RateLimitMiddleware(deps.limiter, "auth", commonmw.RateLimitPolicy{
		IPMax: 20,
	}, cfg.Submit.RateLimit.Window)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")

	auth := api.Group("/auth")
	auth.POST("/register", loginLimit, deps.users.Register)
	auth.POST("/login", loginLimit, deps.users.Login)
	auth.POST("/refresh", deps.users.Refresh)
	auth.POST("/logout", authRequired, deps.users.Logout)
	auth.POST("/password", authRequired, deps.users.ChangePassword)
	auth.GET("/me", authRequired, deps.users.Me)

	user := api.Group("/user", authRequired)
	user.GET("/profile", deps.users.GetProfile)
	user.PUT("/profile", deps.users.UpdateProfile)
	user.GET("/preferences", deps.users.GetPreferences)
	user.PUT("/preferences", deps.users.UpdatePreferences)
	user.GET("/achievements", deps.users.Achievements)

	api.POST("/users/:id/ban", adminOnly, deps.users.Ban)
	api.DELETE("/users/:id/ban", adminOnly, deps.users.Unban)

	problems := api.Group("/problems")
	problems.GET("", commonmw.OptionalAuthMiddleware(deps.auth), deps.problems.List)
	problems.GET("/:id", commonmw.OptionalAuthMiddleware(deps.auth), deps.problems.Get)
	problems.POST("", authRequired, deps.problems.Create)
	problems.PUT("/:id", authRequired, deps.problems.Update)
	problems.PUT("/:id/testcases", authRequired, deps.problems.ReplaceTestCases)
	problems.POST("/:id/data-uploads", authRequired, deps.problems.BeginDataUpload)
	problems.POST("/:id/data-uploads/:uploadID/parts", authRequired, deps.problems.PresignDataPart)
	problems.POST("/:id/data-uploads/:uploadID/complete", authRequired, deps.problems.CompleteDataUpload)
	problems.DELETE("/:id/data-uploads/:uploadID", authRequired, deps.problems.AbortDataUpload)
	problems.POST("/:id/publish", authRequired, deps.problems.Publish)
	problems.DELETE("/:id", authRequired, deps.problems.Delete)
	problems.GET("/:id/stats", deps.stats.GetProblemStats)

	submissions := api.Group("/submissions", authRequired)
	submissions.POST("", deps.submits.Create)
	submissions.GET("", deps.submits.List)
	submissions.GET("/:id", deps.submits.Get)
	submissions.GET("/:id/status", deps.submits.GetStatus)
	submissions.GET("/:id/source", deps.submits.GetSource)
	submissions.GET("/:id/feedback", deps.feedback.GetFeedback)

	api.GET("/judge/status/:id", adminOnly, deps.judge.GetStatus)

	stats := api.Group("/stats")
	stats.GET("/users/:id", deps.stats.GetUserStats)
	stats.GET("/me", authRequired, deps.stats.GetMyStats)
	stats.GET("/leaderboard", deps.stats.GetLeaderboard)

	api.GET("/recommendations", authRequired, deps.recommend.Recommend)

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
