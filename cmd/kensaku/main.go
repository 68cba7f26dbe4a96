// Package main is the Kensaku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kensaku/internal/broker"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/persist"
	"github.com/hyperjump/kensaku/internal/server"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/watcher"
	"github.com/hyperjump/kensaku/internal/worker"
	"github.com/hyperjump/kensaku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kensaku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "stats":
		runStats()
	case "rebuild":
		runRebuild()
	case "version", "--version", "-v":
		fmt.Printf("kensaku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	artifact := persist.Artifact{
		GraphPath:    cfg.Storage.GraphPath,
		ManifestPath: cfg.Storage.ManifestPath,
	}
	// Every spawn opens a fresh store handle; the worker owns and closes it.
	spawn := func() (broker.WorkerHandle, error) {
		store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open embedding store: %w", err)
		}
		return worker.New(store, artifact, cfg.Worker.Debounce(), logger), nil
	}

	b := broker.New(spawn, cfg.Worker.BrokerOptions(), logger)
	if err := b.Initialize(context.Background(), cfg.Index); err != nil {
		logger.Fatal("Failed to initialize index", zap.Error(err))
	}

	var watch *watcher.StoreWatcher
	if cfg.Storage.WatchEnabledOrDefault() {
		watchOpts := []watcher.StoreWatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watch = watcher.NewStoreWatcher(cfg.Storage.DatabasePath, nil, watchOpts...)
		if err := watch.Start(); err != nil {
			logger.Fatal("Failed to start store watcher", zap.Error(err))
		}
		// The worker's own startup writes must not count as external.
		watch.MarkSelfWrite(5 * time.Second)
	}

	srv := server.NewServer(b, watch, &cfg.Server, logger)

	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
		case <-gctx.Done():
			return gctx.Err()
		}

		logger.Info("Shutting down...")
		if watch != nil {
			watch.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		if err := b.Terminate(ctx); err != nil {
			logger.Warn("worker termination failed", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// parseQueryVector accepts a JSON float array, either inline or prefixed
// with @ to read from a file ("@query.json").
func parseQueryVector(arg string) ([]float32, error) {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, err
		}
		data = b
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("query must be a JSON float array: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	return vec, nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	topK := fs.Int("top-k", 10, "number of results")
	threshold := fs.Float64("threshold", 0, "minimum score (0 = server default, negative = no filtering)")
	libraries := fs.String("libraries", "", "comma-separated library IDs to search in")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println(`Usage: kensaku search [flags] '<json vector>' (or @vector.json)`)
		os.Exit(1)
	}
	vec, err := parseQueryVector(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid query: %v\n", err)
		os.Exit(1)
	}

	req := map[string]any{"query": vec, "top_k": *topK}
	if *threshold != 0 {
		req["score_threshold"] = *threshold
	}
	if *libraries != "" {
		req["library_ids"] = strings.Split(*libraries, ",")
	}

	var out struct {
		Results []models.SearchResult `json:"results"`
		Count   int                   `json:"count"`
	}
	if err := postAPI(*serverURL+"/api/v1/search", req, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	case "text":
		if out.Count == 0 {
			fmt.Println("No results.")
			return
		}
		for i, r := range out.Results {
			fmt.Printf("%2d. %-40s %.4f\n", i+1, r.ChunkID, r.Score)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/index/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}

	var stats struct {
		models.IndexStats
		State                  string `json:"state"`
		StoreChangedExternally bool   `json:"store_changed_externally"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		var buf bytes.Buffer
		_ = json.Indent(&buf, body, "", "  ")
		fmt.Println(buf.String())
	case "text":
		fmt.Printf("state:           %s\n", stats.State)
		fmt.Printf("initialized:     %t\n", stats.Initialized)
		fmt.Printf("vectors:         %d\n", stats.Count)
		fmt.Printf("dimension:       %d\n", stats.Dimension)
		fmt.Printf("mappings:        %d\n", stats.MappingCount)
		fmt.Printf("store_changed:   %t   # true when another process wrote the database\n", stats.StoreChangedExternally)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	dimension := fs.Int("dimension", 0, "vector dimension (required)")
	m := fs.Int("m", 0, "graph connectivity (0 = default)")
	efConstruction := fs.Int("ef-construction", 0, "construction working set size (0 = default)")
	efSearch := fs.Int("ef-search", 0, "search working set size (0 = default)")
	_ = fs.Parse(os.Args[2:])

	if *dimension <= 0 {
		fmt.Println("Usage: kensaku rebuild --dimension <n> [--m N] [--ef-construction N] [--ef-search N]")
		os.Exit(1)
	}

	cfg := models.IndexConfig{
		Dimension:      *dimension,
		M:              *m,
		EFConstruction: *efConstruction,
		EFSearch:       *efSearch,
	}
	var out map[string]string
	if err := postAPI(*serverURL+"/api/v1/index/rebuild", cfg, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Index rebuilt.")
}

func postAPI(url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`kensaku - Vector retrieval engine

Usage:
  kensaku server [flags]             Start the HTTP server
  kensaku search [flags] <vector>    Query nearest neighbors (vector as JSON array, or @file)
  kensaku stats [flags]              Show index statistics
  kensaku rebuild [flags]            Rebuild the index with new parameters
  kensaku version                    Show version
  kensaku help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kensaku/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --server string      Server URL (default: http://localhost:8080)
  --top-k int          Number of results (default: 10)
  --threshold float    Minimum score; negative disables filtering
  --libraries string   Comma-separated library IDs
  --output string      Output format: text or json (default: text)

Rebuild Flags:
  --server string           Server URL (default: http://localhost:8080)
  --dimension int           Vector dimension (required)
  --m int                   Graph connectivity
  --ef-construction int     Construction working set size
  --ef-search int           Search working set size

Examples:
  kensaku server
  kensaku search '[0.1, -0.4, 0.9]'
  kensaku search --libraries lib-a,lib-b --top-k 5 @query.json
  kensaku stats --output json
  kensaku rebuild --dimension 768`)
}
