package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/opensandbox/codespace/internal/api"
	"github.com/opensandbox/codespace/internal/audit"
	"github.com/opensandbox/codespace/internal/collab"
	"github.com/opensandbox/codespace/internal/completion"
	"github.com/opensandbox/codespace/internal/config"
	"github.com/opensandbox/codespace/internal/credentials"
	"github.com/opensandbox/codespace/internal/crypto"
	"github.com/opensandbox/codespace/internal/gateway"
	"github.com/opensandbox/codespace/internal/metrics"
	"github.com/opensandbox/codespace/internal/runner"
	"github.com/opensandbox/codespace/internal/storage"
	"github.com/opensandbox/codespace/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.APIKey == "" {
		log.Println("codespace: WARNING no CODESPACE_API_KEY set; the API (including command execution) is unauthenticated")
	}

	// Collaboration rooms
	registry := collab.NewRegistry(collab.RoomOptions{
		ExcludeOrigin: cfg.ExcludeOrigin,
		QueueLimit:    cfg.SubscriberQueueLimit,
	})
	registry.OnRoomCreated = func(string) { metrics.RoomsActive.Inc() }
	registry.OnRoomRemoved = func(string) { metrics.RoomsActive.Dec() }

	deps := api.Deps{
		APIKey:            cfg.APIKey,
		Runner:            runner.New(cfg.Shell, cfg.MaxOutputBytes),
		DefaultWorkingDir: cfg.WorkspaceDir,
		DefaultTimeout:    cfg.DefaultCommandTimeout,
		MaxTimeout:        cfg.MaxCommandTimeout,
		Registry:          registry,
		Broadcaster:       stream.New(registry, stream.Options{PingInterval: cfg.PingInterval}),
		Gateway:           gateway.New(registry),
		Responder:         completion.SimulatedResponder{},
	}

	// Workspace files: S3 when a bucket is configured, local disk otherwise
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
			Prefix:          "workspace/",
		})
		if err != nil {
			log.Fatalf("failed to initialize S3 file store: %v", err)
		}
		deps.Files = s3Store
		log.Printf("codespace: S3 file store configured (bucket=%s, region=%s)", cfg.S3Bucket, cfg.S3Region)
	} else {
		localStore, err := storage.NewLocalStore(cfg.WorkspaceDir)
		if err != nil {
			log.Fatalf("failed to initialize workspace file store: %v", err)
		}
		deps.Files = localStore
		log.Printf("codespace: local file store at %s", cfg.WorkspaceDir)
	}

	// Provider keys: Redis when configured, in-memory otherwise
	sealer, err := crypto.SealerFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize credential encryption: %v", err)
	}
	if cfg.RedisURL != "" {
		redisStore, err := credentials.NewRedisStore(cfg.RedisURL, sealer)
		if err != nil {
			log.Fatalf("failed to connect credential store: %v", err)
		}
		defer redisStore.Close()
		deps.Keys = redisStore
		log.Println("codespace: Redis credential store configured")
	} else {
		deps.Keys = credentials.NewMemoryStore(sealer)
		log.Println("codespace: no CODESPACE_REDIS_URL configured, keeping credentials in memory")
	}

	// Command audit log, forwarded to NATS when configured
	if cfg.DataDir != "" {
		commandLog, err := audit.Open(cfg.DataDir, cfg.NodeID)
		if err != nil {
			log.Fatalf("failed to open audit log: %v", err)
		}
		defer commandLog.Close()
		deps.Audit = commandLog
		log.Printf("codespace: SQLite audit log in %s", cfg.DataDir)

		if cfg.NATSURL != "" {
			publisher, err := audit.NewPublisher(cfg.NATSURL, cfg.NodeID, commandLog)
			if err != nil {
				log.Printf("codespace: NATS publisher disabled: %v", err)
			} else {
				publisher.Start()
				defer publisher.Stop()
				log.Printf("codespace: forwarding command audit to NATS stream %s", audit.StreamName)
			}
		}
	}

	server := api.NewServer(deps)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("codespace: starting server on %s (node=%s)", addr, cfg.NodeID)

	go func() {
		if err := server.Start(addr); err != nil {
			log.Printf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("codespace: shutting down...")
	if err := server.Close(); err != nil {
		log.Printf("error closing server: %v", err)
	}
}
