package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"offerworker/config"
	"offerworker/internal/browser"
	"offerworker/internal/enricher"
	"offerworker/internal/scraper"
	"offerworker/internal/session"
	"offerworker/internal/store"
	"offerworker/logger"
	"offerworker/services/cache"
	"offerworker/services/publisher"
	"offerworker/services/worker"
)

func main() {
	// .env file is optional
	_ = godotenv.Load()

	logger.Init()

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	scrapeConfigs, err := config.LoadScrapeConfigs(cfg.ScrapeConfigPath)
	if err != nil {
		logger.Fatal("Cannot load scrape configs: %v", err)
	}
	if len(scrapeConfigs) == 0 {
		logger.Fatal("No scrape configs in %s", cfg.ScrapeConfigPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal %v, shutting down", sig)
		cancel()
	}()

	repo, err := store.NewOfferRepository(cfg.DatabasePath, cfg.ReofferAfter)
	if err != nil {
		logger.Fatal("Cannot open offer store: %v", err)
	}
	defer repo.Close()

	var pub publisher.Publisher = publisher.NopPublisher{}
	if cfg.RedisAddr != "" {
		pub, err = publisher.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, int64(cfg.RedisStreamMax))
		if err != nil {
			logger.Fatal("Cannot connect publisher: %v", err)
		}
	}
	defer pub.Close()

	var cacheService cache.CacheService
	if cfg.MemcacheAddr != "" {
		cacheService = cache.NewMemcacheService(cfg.MemcacheAddr)
		logger.Info("Using memcache cooldown at %s", cfg.MemcacheAddr)
	}

	widget := &browser.SiteStripeWidget{
		OpenTimeout: cfg.WidgetOpenTimeout,
		ReadTimeout: cfg.WidgetOpenTimeout,
	}
	enr := enricher.New(widget, enricher.Options{
		AssociateTag:    cfg.AssociateTag,
		BaseURL:         cfg.BaseURL,
		PageLoadTimeout: cfg.PageLoadTimeout,
		DetailAttempts:  cfg.DetailAttempts,
		WidgetAttempts:  cfg.WidgetAttempts,
		WidgetBackoff:   cfg.WidgetBackoff,
	})

	w := worker.New(cfg, scrapeConfigs,
		scraper.New(cfg.BaseURL, cfg.PageLoadTimeout),
		enr, repo, pub, cacheService)

	sessions := session.NewStore(cfg.SessionDir, cfg.SessionMaxAge)

	logger.Info("Starting offer worker (%d configs, environment %s)", len(scrapeConfigs), cfg.Environment)

	for {
		if err := runOnce(ctx, cfg, sessions, w); err != nil {
			if ctx.Err() != nil {
				logger.Info("Run interrupted")
				return
			}
			logger.Error("Run aborted: %v", err)
			os.Exit(1)
		}

		if cfg.RunInterval <= 0 {
			return
		}
		logger.Info("Next run in %s", cfg.RunInterval)
		select {
		case <-time.After(cfg.RunInterval):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce loads the session, launches a fresh browser and executes one full
// pipeline run. The browser is always closed, including on the fatal path.
func runOnce(ctx context.Context, cfg *config.Config, sessions *session.Store, w *worker.Worker) error {
	sess, err := sessions.Load(cfg.SessionAccount)
	if err != nil {
		return err
	}

	b, err := browser.Launch(sess)
	if err != nil {
		return err
	}
	defer b.Close()

	started := time.Now()
	sum, err := w.Run(ctx, b)

	logger.Default.Info().
		Int("scanned", sum.Scanned).
		Int("enriched", sum.Enriched).
		Int("inserted", sum.Inserted).
		Int("reoffered", sum.Reoffered).
		Int("updated", sum.Updated).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Bool("blocked", sum.Blocked).
		Dur("duration", time.Since(started)).
		Msg("Run finished")

	return err
}
