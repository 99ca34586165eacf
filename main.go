package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"imovirtual-scraper/config"
	"imovirtual-scraper/models"
	"imovirtual-scraper/scraper/imovirtual"
	"imovirtual-scraper/services"
	"imovirtual-scraper/sources"
	"imovirtual-scraper/storage"
	"imovirtual-scraper/utils"
)

func main() {
	reset := flag.Bool("reset", false, "discard the saved page checkpoint and start from the beginning")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger := utils.NewLogger()
	logger.SetVerbose(*verbose)
	cfg := config.Load()

	logger.Info("=== Imovirtual Scraping System starting ===")
	logger.Info("Config — page size: %d | retries: %d | cooldown: %v | failure budget: %d",
		cfg.PageSize, cfg.MaxRetries, cfg.Cooldown, cfg.FailureBudget)

	progress := storage.NewFileProgressStore(cfg.ProgressFile)
	if *reset {
		if err := progress.Reset(); err != nil {
			logger.Error("Failed to reset checkpoint: %v", err)
			os.Exit(1)
		}
		logger.Info("Checkpoint reset — next run starts from page 1")
	}

	tasks, err := loadTasks(cfg, logger)
	if err != nil {
		logger.Error("Failed to load search tasks: %v", err)
		os.Exit(1)
	}
	logger.Info("Loaded %d search task(s)", len(tasks))

	store, err := storage.NewPostgresStore(cfg.DSN())
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		logger.Error("Make sure Docker is running: docker compose up -d")
		os.Exit(1)
	}
	defer store.Close()

	var exporter imovirtual.RawExporter
	if cfg.CSVOutputPath != "" {
		csvWriter, csvErr := storage.NewCSVWriter(cfg.CSVOutputPath)
		if csvErr != nil {
			logger.Error("Failed to create CSV writer: %v", csvErr)
			os.Exit(1)
		}
		defer csvWriter.Close()
		exporter = csvWriter
	}

	// Ctrl-C cancels cleanly: the page in flight is simply re-fetched on the
	// next run, and the upsert keeps the re-fetch duplicate-free.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := imovirtual.NewPageFetcher(cfg, logger)
	parser := imovirtual.NewListingParser(logger)
	scraper := imovirtual.New(cfg, logger, fetcher, parser, store, progress, exporter)

	if err := scraper.Run(ctx, tasks); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Run interrupted — progress saved, resume with the next invocation")
			return
		}
		logger.Error("Scrape run failed: %v", err)
		os.Exit(1)
	}

	dbListings, err := store.FetchAll(ctx)
	if err != nil {
		logger.Error("Failed to fetch listings from DB for insights: %v", err)
		return
	}

	insightSvc := services.NewInsightService(logger)
	report := insightSvc.Generate(dbListings)
	insightSvc.Print(report)

	fmt.Printf("  Done. Listings stored in PostgreSQL (table: properties)\n\n")
}

func loadTasks(cfg *config.Config, logger *utils.Logger) ([]models.SearchTask, error) {
	if cfg.FreguesiasFile != "" {
		return sources.LoadTasks(cfg.FreguesiasFile)
	}
	logger.Info("No freguesias file configured — scraping single search URL %s", cfg.SearchURL)
	return sources.SingleTask(cfg.SearchURL), nil
}
