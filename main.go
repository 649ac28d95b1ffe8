package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"stockwatch/config"
	"stockwatch/httputil"
	"stockwatch/logging"
	"stockwatch/notify"
	"stockwatch/parser"
	"stockwatch/scanner"
	"stockwatch/scheduler"
	"stockwatch/storage"
	"stockwatch/workers"
)

var (
	scanNow   = flag.Bool("scan", false, "Run one scan across all stores and exit")
	scanStore = flag.String("store", "", "Scan a single store by id and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("daemon.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting stockwatch...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Loaded %d store configs", len(cfg.Stores))
	for id, store := range cfg.Stores {
		log.Printf("  - %s (%s, handler=%s, status=%s)", store.Name, id, store.Handler, store.Status)
	}

	ctx := context.Background()

	// SQLite runs everything by default; DATABASE_URL switches the
	// product state to Postgres. The command queue stays in SQLite
	// either way so local tooling keeps working.
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	var products storage.ProductStore = sqliteStore
	var runs storage.RunStore = sqliteStore
	var health storage.HealthStore = sqliteStore

	if cfg.DBURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DBURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DBURL))
		products = pgStore
		runs = pgStore
		health = pgStore
	}

	fetcher := httputil.NewFetcher(
		httputil.WithMinDelay(time.Duration(cfg.Scanner.DelayMS)*time.Millisecond),
		httputil.WithMaxRetries(cfg.Scanner.MaxRetries),
	)

	parsers := parser.FromConfig(cfg)

	coordinator := scanner.New(fetcher, products, parsers)
	coordinator.SetRunStore(runs)

	if cfg.Archive.Bucket != "" {
		archiver, err := storage.NewResponseArchiver(ctx, storage.ArchiveConfig{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			log.Printf("Warning: response archiving disabled: %v", err)
		} else {
			coordinator.SetArchiver(archiver)
			log.Printf("Archiving unparseable responses to s3://%s", cfg.Archive.Bucket)
		}
	}

	var notifiers notify.Fanout
	if cfg.Notify.DiscordWebhookURL != "" {
		notifiers = append(notifiers, notify.NewDiscordWebhook(cfg.Notify.DiscordWebhookURL))
		log.Println("Discord notifications enabled")
	}
	if cfg.Notify.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(notify.AMQPConfig{
			URL:      cfg.Notify.AMQPURL,
			Exchange: cfg.Notify.AMQPExchange,
		})
		if err != nil {
			log.Fatalf("Failed to connect to AMQP: %v", err)
		}
		defer pub.Close()
		notifiers = append(notifiers, pub)
		log.Printf("AMQP notifications enabled (exchange %s)", cfg.Notify.AMQPExchange)
	}
	if len(notifiers) > 0 {
		coordinator.SetNotifier(notifiers)
	}

	// One-shot modes
	if *scanStore != "" {
		result, err := coordinator.RunStore(ctx, *scanStore)
		if err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		log.Printf("Scan complete: %d products, %d events, %d errors",
			result.ProductsChecked, len(result.Events), len(result.Errors))
		return
	}
	if *scanNow {
		result, err := coordinator.RunAll(ctx)
		if err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		log.Printf("Scan complete: %d products, %d events, %d stores failed",
			result.ProductsChecked, len(result.Events), result.StoresFailed)
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg, coordinator, sqliteStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	healthcheckWorker := workers.NewHealthcheckWorker(health, fetcher)
	sched.SetHealthWorker(healthcheckWorker)
	go healthcheckWorker.Run(ctx, 24*time.Hour, 20, 30*time.Minute)
	log.Println("Healthcheck worker started")

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
}

var connSecret = regexp.MustCompile(`//[^@]+@`)

func maskConnectionString(conn string) string {
	return connSecret.ReplaceAllString(conn, "//***@")
}
