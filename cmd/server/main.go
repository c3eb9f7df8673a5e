package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	config "github.com/maheshrc27/postpublisher/configs"
	"github.com/maheshrc27/postpublisher/internal/api/handlers"
	"github.com/maheshrc27/postpublisher/internal/api/middleware"
	"github.com/maheshrc27/postpublisher/internal/database"
	"github.com/maheshrc27/postpublisher/internal/dispatcher"
	job "github.com/maheshrc27/postpublisher/internal/jobs"
	"github.com/maheshrc27/postpublisher/internal/lock"
	"github.com/maheshrc27/postpublisher/internal/platform"
	"github.com/maheshrc27/postpublisher/internal/queue"
	"github.com/maheshrc27/postpublisher/internal/repository"
	"github.com/maheshrc27/postpublisher/internal/service"
	"github.com/maheshrc27/postpublisher/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.LoadConfig()

	db, err := database.Open(cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		closeDB(db)
		log.Fatalf("Failed to migrate database: %v", err)
	}

	catalog, err := config.LoadPlatformCatalog(cfg.Simulation.PlatformCatalog)
	if err != nil {
		closeDB(db)
		log.Fatalf("Failed to load platform catalog: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer redisClient.Close()

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	clock := utils.SystemClock{}

	postRepo := repository.NewPostRepository(db)
	attemptRepo := repository.NewPlatformAttemptRepository(db)
	platformRepo := repository.NewPlatformRepository(db)

	platformService := service.NewPlatformService(platformRepo)
	if err := platformService.Seed(context.Background(), catalog); err != nil {
		closeDB(db)
		log.Fatalf("Failed to seed platforms: %v", err)
	}

	scheduler := queue.NewScheduler(client)
	postService := service.NewPostService(db, postRepo, attemptRepo, platformRepo, scheduler, clock, cfg.DailyScheduledLimit)

	registry := platform.NewSimulatedRegistry(catalog, cfg.Simulation)

	options := []dispatcher.Option{
		dispatcher.WithLocker(lock.NewRedisLocker(redisClient, lock.DefaultRunLockKey, cfg.Dispatch.LockTTL)),
	}
	if cfg.R2Enabled() {
		media, err := service.NewMediaService(context.Background(), *cfg)
		if err != nil {
			closeDB(db)
			log.Fatalf("Failed to init media service: %v", err)
		}
		options = append(options, dispatcher.WithMediaResolver(media))
	} else {
		slog.Warn("R2 is not configured, image references are passed through unchanged")
	}
	d := dispatcher.New(postRepo, attemptRepo, registry, clock, dispatcher.OptionsFromConfig(cfg.Dispatch), options...)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: cfg.Dispatch.RunTimeout,
		BodyLimit:    1 * 1024 * 1024, // 1 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("request failed", slog.String("path", c.Path()), slog.String("error", err.Error()))
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(middleware.CORS(cfg.FrontendURL))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	api := app.Group("/api")
	api.Use(middleware.UserMiddleware())

	platforms := handlers.NewPlatformHandler(platformService)
	api.Get("/platforms", platforms.ListPlatforms)

	post := handlers.NewPostHandler(postService)
	api.Post("/posts", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/:id", post.GetPost)
	api.Put("/posts/:id", post.UpdatePost)
	api.Delete("/posts/:id", post.RemovePost)

	dispatch := handlers.NewDispatchHandler(d, scheduler)
	api.Post("/dispatch/run", dispatch.RunNow)
	api.Post("/dispatch/enqueue", dispatch.Enqueue)

	// cron jobs
	publishJob := job.NewPublishJob(d, cfg.Dispatch.RunTimeout)

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := publishJob.Schedule(c, cfg.Dispatch.Cron); err != nil {
		closeDB(db)
		log.Fatalf("Invalid DISPATCH_CRON %q: %v", cfg.Dispatch.Cron, err)
	}
	c.Start()

	//queue
	queueW := queue.NewQueue(d)
	server := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: 10,
	})

	go func() {
		mux := asynq.NewServeMux()
		queueW.Register(mux)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on http://localhost:%s", cfg.Port)

	gracefulShutdown(app, c, server, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, c *cron.Cron, server *asynq.Server, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	// Wait for an in-flight cron run so its claims are settled before the pool closes.
	<-c.Stop().Done()
	server.Shutdown()

	closeDB(db)
	log.Println("Server shutdown complete.")
}
