// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/regdex/ai"
	"github.com/poiesic/regdex/ai/openai"
	"github.com/poiesic/regdex/config"
	"github.com/poiesic/regdex/core"
	"github.com/poiesic/regdex/discover"
	"github.com/poiesic/regdex/fetch"
	"github.com/poiesic/regdex/index/qdrant"
	"github.com/poiesic/regdex/indexer"
	"github.com/poiesic/regdex/ocr"
	"github.com/poiesic/regdex/ocr/tesseract"
	"github.com/poiesic/regdex/pipeline"
	"github.com/poiesic/regdex/storage/badger"
	"github.com/poiesic/regdex/validate"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "regdex",
		Usage: "Regulatory document ingestion and indexing pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "discover",
				Usage:  "Register documents from a configured feed",
				Action: discoverCommand,
				Flags:  []cli.Flag{feedFlag()},
			},
			{
				Name:   "fetch",
				Usage:  "Download every discovered document",
				Action: fetchCommand,
			},
			{
				Name:   "extract",
				Usage:  "OCR every downloaded document",
				Action: extractCommand,
			},
			{
				Name:   "upload",
				Usage:  "Embed and index every extracted document",
				Action: uploadCommand,
			},
			{
				Name:   "run",
				Usage:  "Discover, fetch, extract and upload in one pass",
				Action: runCommand,
				Flags:  []cli.Flag{feedFlag()},
			},
			{
				Name:   "retry",
				Usage:  "Return failed documents to the stage that failed",
				Action: retryCommand,
			},
			{
				Name:   "validate",
				Usage:  "Reconcile the local store against the vector index",
				Action: validateCommand,
			},
			{
				Name:   "status",
				Usage:  "Show document counts per processing stage",
				Action: statusCommand,
			},
			{
				Name:   "query",
				Usage:  "Search the index for a text query",
				Action: queryCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of matches to return",
						Value: 5,
					},
					&cli.StringFlag{
						Name:  "doc",
						Usage: "Restrict matches to one document id",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup(c *cli.Context) error {
	if path := c.String("config"); path != "" {
		os.Setenv("REGDEX_CONFIG", path)
	}

	levelStr := strings.ToLower(c.String("log-level"))
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func feedFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "feed",
		Aliases: []string{"f"},
		Usage:   "Name of the configured feed (optional when only one is configured)",
	}
}

// appEnv bundles everything a command needs, with one cleanup call.
type appEnv struct {
	cfg      config.Config
	store    *badger.RecordRepository
	backend  *badger.Backend
	idx      *qdrant.Index
	embedder ai.Embedder
	pipeline *pipeline.Pipeline
}

func (a *appEnv) close() {
	if a.pipeline != nil {
		a.pipeline.Release()
	}
	if a.idx != nil {
		a.idx.Close()
	}
	if a.backend != nil {
		a.backend.Close()
	}
}

func buildApp() (*appEnv, error) {
	cfg := config.Load()
	a := &appEnv{cfg: cfg}

	backend, err := badger.OpenBackend(cfg.Database.Path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.backend = backend

	store, err := badger.NewRecordRepository(backend)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create record store: %w", err)
	}
	a.store = store

	idx, err := qdrant.New(cfg.Index.QdrantAddr, cfg.Index.Collection)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	a.idx = idx

	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(cfg.Embedding.Host),
		ai.WithEmbeddingModel(cfg.Embedding.Model),
		ai.WithAPIKey(cfg.Embedding.APIKey),
		ai.WithDimensions(cfg.Embedding.Dimensions),
	)
	embedder, err := openai.NewEmbedder(aiConfig)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.embedder = embedder

	fetcher, err := fetch.NewFetcher(cfg.Download.Dir,
		fetch.WithRequestInterval(cfg.Download.RequestInterval),
		fetch.WithMinSize(cfg.Download.MinSize),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	extractor, err := ocr.NewExtractor(tesseract.NewRecognizer(),
		ocr.WithProfile(ocr.Profile{
			Language: cfg.OCR.Language,
			DPI:      cfg.OCR.DPI,
		}),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	uploader, err := indexer.NewIndexer(embedder, idx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}

	pipe, err := pipeline.NewPipeline(store, fetcher, extractor, uploader,
		pipeline.WithPoolSize(cfg.Pipeline.Workers),
		pipeline.WithMaxAttempts(cfg.Pipeline.MaxAttempts),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	a.pipeline = pipe

	return a, nil
}

func (a *appEnv) feed(name string) (discover.Feed, error) {
	feeds := a.cfg.Feeds
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no feeds configured")
	}
	if name == "" {
		if len(feeds) == 1 {
			return buildFeed(feeds[0])
		}
		return nil, fmt.Errorf("multiple feeds configured, pick one with --feed")
	}
	for _, fc := range feeds {
		if fc.Name == name {
			return buildFeed(fc)
		}
	}
	return nil, fmt.Errorf("unknown feed %q", name)
}

func buildFeed(fc config.FeedConfig) (discover.Feed, error) {
	switch fc.Type {
	case "file":
		if fc.Path == "" {
			return nil, fmt.Errorf("feed %s: path is required", fc.Name)
		}
		return discover.NewFileFeed(fc.Path), nil
	case "listing":
		if fc.URL == "" || fc.RowSelector == "" || fc.LinkSelector == "" {
			return nil, fmt.Errorf("feed %s: url, rowSelector and linkSelector are required", fc.Name)
		}
		return discover.NewListingFeed(nil, discover.ListingConfig{
			URL:           fc.URL,
			RowSelector:   fc.RowSelector,
			LinkSelector:  fc.LinkSelector,
			TitleSelector: fc.TitleSelector,
			DateSelector:  fc.DateSelector,
			DateFormat:    fc.DateFormat,
			Language:      fc.Language,
		}), nil
	default:
		return nil, fmt.Errorf("feed %s: unknown type %q", fc.Name, fc.Type)
	}
}

func discoverCommand(c *cli.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	feed, err := a.feed(c.String("feed"))
	if err != nil {
		return err
	}

	summary, err := a.pipeline.Discover(context.Background(), feed)
	if err != nil {
		return err
	}
	fmt.Printf("feed %s: %d candidates, %d new, %d unchanged, %d superseded\n",
		summary.Feed, summary.Candidates, summary.New, summary.Unchanged, summary.Superseded)
	return nil
}

func fetchCommand(c *cli.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()
	return runSweep(a.pipeline.FetchSweep)
}

func extractCommand(c *cli.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()
	return runSweep(a.pipeline.ExtractSweep)
}

func uploadCommand(c *cli.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.idx.EnsureCollection(context.Background(), a.cfg.Embedding.Dimensions); err != nil {
		return err
	}
	return runSweep(a.pipeline.UploadSweep)
}

func runSweep(sweep func(context.Context) (*pipeline.SweepSummary, error)) error {
	summary, err := sweep(context.Background())
	if err != nil {
		return err
	}
	printSweep(summary)
	if summary.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d documents failed", summary.Failed), 1)
	}
	return nil
}

func printSweep(s *pipeline.SweepSummary) {
	fmt.Printf("%s: %d processed, %d advanced, %d skipped, %d retryable, %d failed\n",
		s.Stage, s.Processed, s.Advanced, s.Skipped, s.Retryable, s.Failed)
	for _, id := range s.FailedIDs {
		fmt.Printf("  failed: %s\n", id)
	}
}

func runCommand(c *cli.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()
	ctx := context.Background()

	var feed discover.Feed
	if len(a.cfg.Feeds) > 0 || c.String("feed") != "" {
		if feed, err = a.feed(c.String("feed")); err != nil {
			return err
		}
	}

	if err := a.idx.EnsureCollection(ctx, a.cfg.Embedding.Dimensions); err != nil {
		return err
	}

	summary, err := a.pipeline.Run(ctx, feed)
	if err != nil {
		return err
	}
	if summary.Discover != nil {
		fmt.Printf("discover: %d candidates, %d new, %d unchanged, %d superseded\n",
			summary.Discover.Candidates, summary.Discover.New,
			summary.Discover.Unchanged, summary.Discover.Superseded)
	}
	printSweep(summary.Fetch)
	printSweep(summary.Extract)
	printSweep(summary.Upload)

	if n := summary.Failures(); n > 0 {
		return cli.Exit(fmt.Sprintf("%d documents failed", n), 1)
	}
	return nil
}

func retryCommand(c *cli.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	summary, err := a.pipeline.RetrySweep(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("retry: %d failed, %d requeued\n", summary.Failed, summary.Retried)
	return nil
}

func validateCommand(c *cli.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	report, err := validate.NewReconciler(a.store, a.idx).Reconcile(context.Background())
	if err != nil {
		return err
	}

	fmt.Println(report.String())
	for _, f := range report.Findings {
		if f.Class != validate.Consistent {
			fmt.Printf("  %s: %s %s\n", f.Class, f.DocID, f.Detail)
		}
	}
	if !report.Clean() {
		return cli.Exit("index and store disagree", 1)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	counts, err := a.store.CountByStatus(context.Background())
	if err != nil {
		return err
	}
	for status := core.StatusDiscovered; status <= core.StatusFailed; status++ {
		fmt.Printf("%-12s %d\n", status, counts[status])
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return fmt.Errorf("query text is required")
	}
	ctx := context.Background()

	vector, err := a.embedder.EmbedText(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed query: %w", err)
	}

	var filters map[string]string
	if doc := c.String("doc"); doc != "" {
		filters = map[string]string{"doc_id": doc}
	}

	matches, err := a.idx.Query(ctx, vector, c.Int("top-k"), filters)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%.4f  %s  %s\n", m.Score, m.ID, m.Payload["meta_title"])
		if snippet := m.Payload["text"]; snippet != "" {
			fmt.Printf("        %s\n", snippet)
		}
	}
	return nil
}
