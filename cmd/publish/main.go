// Command publish performs a single dispatch run and prints its summary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	config "github.com/maheshrc27/postpublisher/configs"
	"github.com/maheshrc27/postpublisher/internal/database"
	"github.com/maheshrc27/postpublisher/internal/dispatcher"
	"github.com/maheshrc27/postpublisher/internal/lock"
	"github.com/maheshrc27/postpublisher/internal/platform"
	"github.com/maheshrc27/postpublisher/internal/repository"
	"github.com/maheshrc27/postpublisher/internal/service"
	"github.com/maheshrc27/postpublisher/pkg/utils"
	"github.com/redis/go-redis/v9"
)

func main() {
	postID := flag.Int64("post", 0, "dispatch only this post id")
	useLock := flag.Bool("lock", true, "take the shared run lock in redis")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg := config.LoadConfig()

	db, err := database.Open(cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	catalog, err := config.LoadPlatformCatalog(cfg.Simulation.PlatformCatalog)
	if err != nil {
		log.Fatalf("Failed to load platform catalog: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Dispatch.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Dispatch.RunTimeout)
		defer cancel()
	}

	var options []dispatcher.Option
	if *useLock {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
		defer redisClient.Close()
		options = append(options, dispatcher.WithLocker(lock.NewRedisLocker(redisClient, lock.DefaultRunLockKey, cfg.Dispatch.LockTTL)))
	}
	if cfg.R2Enabled() {
		media, err := service.NewMediaService(ctx, *cfg)
		if err != nil {
			log.Fatalf("Failed to init media service: %v", err)
		}
		options = append(options, dispatcher.WithMediaResolver(media))
	}

	d := dispatcher.New(
		repository.NewPostRepository(db),
		repository.NewPlatformAttemptRepository(db),
		platform.NewSimulatedRegistry(catalog, cfg.Simulation),
		utils.SystemClock{},
		dispatcher.OptionsFromConfig(cfg.Dispatch),
		options...,
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *postID > 0 {
		res, err := d.DispatchPost(ctx, *postID)
		if err != nil {
			log.Fatalf("Dispatch of post %d failed: %v", *postID, err)
		}
		if err := enc.Encode(res); err != nil {
			log.Fatalf("Failed to write result: %v", err)
		}
		return
	}

	summary, err := d.Run(ctx)
	if err != nil {
		if errors.Is(err, dispatcher.ErrRunInProgress) {
			log.Println("Another dispatch run is in progress")
			return
		}
		log.Fatalf("Dispatch run failed: %v", err)
	}
	if err := enc.Encode(summary); err != nil {
		log.Fatalf("Failed to write summary: %v", err)
	}
}
