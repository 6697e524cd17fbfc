// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command harvesterd runs one scraping task end to end: create, submit,
// poll progress until terminal, and optionally export the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/socialharvest/harvester/internal/config"
	"github.com/socialharvest/harvester/internal/engine"
	"github.com/socialharvest/harvester/internal/export"
	"github.com/socialharvest/harvester/internal/model"
	"github.com/socialharvest/harvester/internal/scrape"
	"github.com/socialharvest/harvester/internal/store"
)

func main() {
	// Load .env if present; plain environment variables work too.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	url := flag.String("url", "", "target page URL to scrape")
	name := flag.String("name", "", "task name (defaults to the URL)")
	kinds := flag.String("kinds", "", "comma-separated data kinds to extract (default post,comment)")
	maxItems := flag.Int("max-items", 0, "item limit (0 uses the configured default)")
	doExport := flag.Bool("export", false, "export results after a successful run")
	configPath := flag.String("config", "", "explicit config file path")
	flag.Parse()

	if *url == "" {
		fmt.Println("Usage: harvesterd -url <page-url> [-name <task-name>] [-kinds post,comment] [-max-items N] [-export]")
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	fetcher := scrape.NewHTTPFetcher(cfg.Scrape.UserAgent)
	eng := engine.New(st, st, fetcher, engine.Options{
		MaxWorkers:        cfg.Engine.MaxWorkers,
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
		Burst:             cfg.Engine.Burst,
		Logger:            logger,
	})

	task, err := buildTask(cfg, *name, *url, *kinds, *maxItems)
	if err != nil {
		logger.Fatalf("Failed to create task: %v", err)
	}

	ctx := context.Background()
	if err := st.CreateTask(ctx, task); err != nil {
		logger.Fatalf("Failed to persist task: %v", err)
	}
	if err := eng.Submit(ctx, task); err != nil {
		logger.Fatalf("Failed to submit task: %v", err)
	}
	logger.Printf("Submitted task %s", task.Summary())

	// Ctrl-C requests cooperative cancellation; a second one kills us.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Interrupt received, cancelling task...")
		if err := eng.Cancel(task.ID); err != nil {
			logger.Printf("Cancel: %v", err)
		}
		<-sigChan
		os.Exit(1)
	}()

	final := pollUntilTerminal(ctx, eng, task.ID, logger)

	fmt.Println("\n=== Task Summary ===")
	fmt.Printf("Task ID:   %s\n", task.ID)
	fmt.Printf("Status:    %s\n", final.Status)
	fmt.Printf("Items:     %d\n", final.ItemsProcessed)
	if msg := task.ErrorMessage(); msg != "" {
		fmt.Printf("Error:     %s\n", msg)
	}

	if *doExport && final.Status == model.TaskStatusCompleted {
		runExport(ctx, cfg, st, task.ID, logger)
	}
}

// loadConfig loads from an explicit path or the standard locations.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// openStore selects SQLite when a database path is configured, the
// in-memory store otherwise.
func openStore(cfg *config.Config, logger *log.Logger) (store.Store, func(), error) {
	if cfg.Storage.DatabasePath == "" {
		logger.Println("No database path configured, using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	s, err := store.OpenSQLite(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Printf("Database: %s", cfg.Storage.DatabasePath)
	return s, func() { s.Close() }, nil
}

// buildTask assembles a task from the engine defaults, overlaid with
// the configured values and flags.
func buildTask(cfg *config.Config, name, url, kindList string, maxItems int) (*model.Task, error) {
	var dataKinds []model.DataKind
	for _, k := range strings.Split(kindList, ",") {
		if k = strings.TrimSpace(k); k != "" {
			dataKinds = append(dataKinds, model.DataKind(k))
		}
	}

	taskCfg := model.DefaultConfig()
	if len(dataKinds) > 0 {
		taskCfg.DataKinds = dataKinds
	}
	taskCfg.MaxItems = cfg.Scrape.MaxItems
	taskCfg.DelayMin = cfg.Scrape.DelayMin()
	taskCfg.DelayMax = cfg.Scrape.DelayMax()
	taskCfg.Timeout = cfg.Scrape.Timeout()
	taskCfg.MaxRetries = cfg.Scrape.MaxRetries
	taskCfg.Headless = cfg.Scrape.Headless
	if maxItems > 0 {
		taskCfg.MaxItems = maxItems
	}
	if name == "" {
		name = url
	}
	return model.NewTask(name, url, taskCfg)
}

// pollUntilTerminal prints progress every couple of seconds until the
// task reaches a terminal state, then returns the final snapshot.
func pollUntilTerminal(ctx context.Context, eng *engine.Engine, taskID string, logger *log.Logger) *progressSnapshot {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		snap, err := eng.Status(ctx, taskID)
		if err != nil {
			logger.Printf("Status: %v", err)
			continue
		}
		if snap.Percent >= 0 {
			logger.Printf("Progress: %s, %d item(s), %d%%", snap.Status, snap.ItemsProcessed, snap.Percent)
		} else {
			logger.Printf("Progress: %s, %d item(s)", snap.Status, snap.ItemsProcessed)
		}
		if snap.Status.Terminal() {
			return &progressSnapshot{Status: snap.Status, ItemsProcessed: snap.ItemsProcessed}
		}
	}
	return nil
}

// progressSnapshot is the small slice of a snapshot main cares about.
type progressSnapshot struct {
	Status         model.TaskStatus
	ItemsProcessed int
}

// runExport creates and runs an export job for the completed task.
func runExport(ctx context.Context, cfg *config.Config, st store.Store, taskID string, logger *log.Logger) {
	sink := export.NewCSVSink(cfg.Export.OutputDir)
	pipeline := export.NewPipeline(st, st, st, sink, logger)

	job, err := pipeline.NewJob(ctx, taskID, "")
	if err != nil {
		logger.Printf("Export rejected: %v", err)
		return
	}
	if err := pipeline.Run(ctx, job); err != nil {
		logger.Printf("Export failed: %v", err)
		return
	}
	fmt.Printf("Export:    %s (%d bytes)\n", job.Filename, job.FileSize())
}
