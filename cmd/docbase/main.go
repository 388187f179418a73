// Copyright 2025 Opsgrid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
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
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/opsgrid/docbase"
	"github.com/opsgrid/docbase/config"
	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/reindex"
	"github.com/opsgrid/docbase/retrieve"
	"github.com/opsgrid/docbase/vectorstore"
)

func main() {
	app := &cli.App{
		Name:  "docbase",
		Usage: "Technical document knowledge base",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Value:   "docbase.yaml",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Submit documents for ingestion and wait for completion",
				ArgsUsage: "FILE [FILE...]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "vendor",
						Usage: "Vendor tag recorded on every submitted document",
					},
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "Tag recorded on every submitted document (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "no-wait",
						Usage: "Return after submission without waiting for jobs to finish",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show the state of an ingestion job",
				ArgsUsage: "JOB_ID",
				Action:    statusCommand,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel an ingestion job",
				ArgsUsage: "JOB_ID",
				Action:    cancelCommand,
			},
			{
				Name:   "resume",
				Usage:  "Resume ingestion jobs left unfinished by a previous run",
				Action: resumeCommand,
			},
			{
				Name:      "search",
				Usage:     "Run a hybrid search over the indexed documents",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top",
						Aliases: []string{"k"},
						Usage:   "Maximum number of results",
					},
					&cli.StringFlag{
						Name:  "vendor",
						Usage: "Restrict results to a vendor",
					},
					&cli.StringFlag{
						Name:  "doc-type",
						Usage: "Restrict results to a document type (pdf, docx, ...)",
					},
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "Require a tag on every result (repeatable)",
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Remove every indexed chunk of a document",
				ArgsUsage: "DOCUMENT_ID",
				Action:    deleteCommand,
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed chunks whose vectors predate the current embedding model",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to embed in each batch",
						Value: 64,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Re-embed every chunk regardless of model version",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openKnowledgeBase(c *cli.Context) (*docbase.KnowledgeBase, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return docbase.New(cfg)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	ctx := context.Background()
	jobIds := make([]core.ID, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		job, err := kb.SubmitDocument(ctx, docbase.Upload{
			FileName: filepath.Base(path),
			MimeType: mime.TypeByExtension(filepath.Ext(path)),
			Vendor:   c.String("vendor"),
			Tags:     c.StringSlice("tag"),
		}, file)
		file.Close()
		if err != nil {
			return fmt.Errorf("submitting %s: %w", path, err)
		}
		fmt.Printf("submitted %s as job %d\n", path, job.Id)
		jobIds = append(jobIds, job.Id)
	}

	if c.Bool("no-wait") {
		return nil
	}

	for _, jobId := range jobIds {
		job, err := waitForJob(ctx, kb, jobId)
		if err != nil {
			return err
		}
		printJob(job)
	}
	return nil
}

// waitForJob polls job state until it reaches a terminal status.
func waitForJob(ctx context.Context, kb *docbase.KnowledgeBase, jobId core.ID) (*core.IngestionJob, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		job, err := kb.GetJobStatus(ctx, jobId)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func statusCommand(c *cli.Context) error {
	jobId, err := parseId(c.Args().First())
	if err != nil {
		return err
	}

	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	job, err := kb.GetJobStatus(context.Background(), jobId)
	if err != nil {
		return err
	}
	printJob(job)
	return nil
}

func cancelCommand(c *cli.Context) error {
	jobId, err := parseId(c.Args().First())
	if err != nil {
		return err
	}

	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	if err := kb.CancelJob(context.Background(), jobId); err != nil {
		return err
	}
	fmt.Printf("cancellation requested for job %d\n", jobId)
	return nil
}

func resumeCommand(c *cli.Context) error {
	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	count, err := kb.Resume(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("resumed %d jobs\n", count)
	kb.Wait()
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("a query is required")
	}

	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	opts := &retrieve.Options{TopK: c.Int("top")}
	filter := &vectorstore.Filter{
		Vendor:  c.String("vendor"),
		DocType: c.String("doc-type"),
		Tags:    c.StringSlice("tag"),
	}
	if !filter.Empty() {
		opts.Filter = filter
	}

	resp, err := kb.Search(context.Background(), query, opts)
	if err != nil {
		return err
	}

	if resp.VectorDegraded {
		fmt.Fprintln(os.Stderr, "warning: vector leg unavailable, results are keyword-only")
	}
	if resp.KeywordDegraded {
		fmt.Fprintln(os.Stderr, "warning: keyword leg unavailable, results are vector-only")
	}
	if resp.RerankDegraded {
		fmt.Fprintln(os.Stderr, "warning: reranker unavailable, results ranked by fused score")
	}

	for i, r := range resp.Results {
		fmt.Printf("%2d. [%.4f] doc=%d chunk=%d %s\n", i+1, r.FinalScore(), r.DocumentId, r.ChunkId, r.Metadata.Title)
		fmt.Printf("    %s\n", excerpt(r.Text, 200))
	}
	if len(resp.Results) == 0 {
		fmt.Println("no results")
	}
	return nil
}

func deleteCommand(c *cli.Context) error {
	documentId, err := parseId(c.Args().First())
	if err != nil {
		return err
	}

	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	if err := kb.DeleteDocument(context.Background(), documentId); err != nil {
		return err
	}
	fmt.Printf("deleted document %d\n", documentId)
	return nil
}

func reindexCommand(c *cli.Context) error {
	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	reindexer, err := kb.NewReindexer(&reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		Force:          c.Bool("force"),
	}, os.Stderr)
	if err != nil {
		return err
	}

	count, err := reindexer.Run(context.Background())
	if err != nil {
		return fmt.Errorf("reindexing failed: %w", err)
	}
	fmt.Printf("reindexed %d chunks\n", count)
	return nil
}

func printJob(job *core.IngestionJob) {
	fmt.Printf("job %d: %s (%d%%)\n", job.Id, job.Status, job.Progress)
	if job.LastError != "" {
		fmt.Printf("  last error: %s\n", job.LastError)
	}
	if len(job.FailedChunkIds) > 0 {
		fmt.Printf("  failed chunks: %d\n", len(job.FailedChunkIds))
	}
}

func parseId(arg string) (core.ID, error) {
	if arg == "" {
		return 0, fmt.Errorf("an id argument is required")
	}
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", arg, err)
	}
	return core.ID(id), nil
}

func excerpt(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

func setupLogger(c *cli.Context) error {
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
