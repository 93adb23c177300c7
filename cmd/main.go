package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/source"
)

const configFilePath = "./configs/config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "pdfrag",
		Usage: "Index PDF documents and answer questions about them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML or TOML config file",
				Value:   configFilePath,
				Sources: cli.EnvVars("PDFRAG_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error; overrides the config file",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Write Prometheus metrics to stderr when the command ends",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "Extract, chunk, embed and store every document of the source",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "reset", Usage: "Clear the collection first"},
					&cli.BoolFlag{Name: "watch", Usage: "Keep running and index new or changed files (dir source only)"},
					&cli.BoolFlag{Name: "json", Usage: "Print the run summary as JSON"},
				},
				Action: action(runIndex),
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the indexed documents",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "filter", Aliases: []string{"f"}, Usage: "Restrict hits, e.g. doc_type=invoice,quote"},
					&cli.BoolFlag{Name: "json", Usage: "Print the answer as JSON"},
				},
				Action: action(runAsk),
			},
			{
				Name:   "stats",
				Usage:  "Show counts per document type, file and content type",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Print as JSON"}},
				Action: action(runStats),
			},
			{
				Name:  "list",
				Usage: "Page through the chunks of one document type",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Document type", Required: true},
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.IntFlag{Name: "offset"},
				},
				Action: action(runList),
			},
			{
				Name:   "clear",
				Usage:  "Delete every vector of the collection",
				Action: action(runClear),
			},
			{
				Name:      "export",
				Usage:     "Write the chromem collection to a file",
				ArgsUsage: "[file]",
				Action:    action(runExport),
			},
			{
				Name:      "import",
				Usage:     "Load the chromem collection from a file written by export",
				ArgsUsage: "[file]",
				Action:    action(runImport),
			},
		},
	}
}

func runIndex(ctx context.Context, cmd *cli.Command, a *app) error {
	src := a.source()
	extractor, err := a.extractor(ctx)
	if err != nil {
		return err
	}
	pipeline, err := a.pipeline(ctx, src, extractor)
	if err != nil {
		return err
	}

	result, err := pipeline.IngestAll(ctx, cmd.Bool("reset"))
	if err != nil {
		return err
	}
	if err := a.persist(ctx); err != nil {
		return err
	}
	if cmd.Bool("json") {
		err = helper.PrettyPrint(os.Stdout, result)
	} else {
		printIngest(os.Stdout, result)
	}
	if err != nil {
		return err
	}

	if !cmd.Bool("watch") {
		if !result.Success {
			return cli.Exit("no document could be indexed", 2)
		}
		return nil
	}

	dir, ok := src.(*source.Dir)
	if !ok {
		return &models.ConfigurationError{Field: "source.type", Msg: "--watch needs the dir source"}
	}
	err = dir.Watch(ctx, func(doc source.Document) {
		res, err := pipeline.Ingest(ctx, []source.Document{doc}, false)
		if err != nil {
			log.Error().Err(err).Str("file", doc.Name).Msg("Indexing failed")
			return
		}
		if !res.Success {
			return
		}
		log.Info().Str("file", doc.Name).Int("chunks", res.TotalChunks).Msg("Indexed")
		if err := a.persist(ctx); err != nil {
			log.Error().Err(err).Msg("Cannot persist collection")
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printIngest(w io.Writer, r rag.IngestResult) {
	fmt.Fprintf(w, "Run %s: %d documents, %d failed, %d chunks in %s\n",
		r.RunID, r.Documents, r.Failed, r.TotalChunks, r.Elapsed.Round(time.Millisecond))
	for _, name := range sortedKeys(r.ChunksByType) {
		fmt.Fprintf(w, "  %-10s %4d documents %6d chunks\n", name, r.DocumentsByType[name], r.ChunksByType[name])
	}
	for _, rep := range r.Reports {
		if rep.Error != "" {
			fmt.Fprintf(w, "  failed %s: %s\n", rep.Filename, rep.Error)
		}
	}
}

func runAsk(ctx context.Context, cmd *cli.Command, a *app) error {
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return cli.Exit("ask needs a question", 2)
	}
	filter, err := models.ParseFilter(cmd.StringSlice("filter"))
	if err != nil {
		return err
	}
	pipeline, err := a.pipeline(ctx, nil, nil)
	if err != nil {
		return err
	}

	result, err := pipeline.Query(ctx, question, filter)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return helper.PrettyPrint(os.Stdout, result)
	}

	fmt.Fprintf(os.Stdout, "%s\n", result.Answer)
	if len(result.Sources) > 0 {
		fmt.Fprintln(os.Stdout, "\nSources:")
		for _, s := range result.Sources {
			fmt.Fprintf(os.Stdout, "  - %s (%s, %.2f)\n", s.Filename, s.DocType, s.Score)
		}
	}
	if result.Cached {
		fmt.Fprintln(os.Stdout, "(cached)")
	}
	return nil
}

func runStats(ctx context.Context, cmd *cli.Command, a *app) error {
	ix, err := a.index(ctx)
	if err != nil {
		return err
	}
	stats, err := ix.Stats(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return helper.PrettyPrint(os.Stdout, stats)
	}

	fmt.Fprintf(os.Stdout, "Total vectors: %d (scanned %d)\n", stats.TotalVectors, stats.Scanned)
	for _, group := range []struct {
		title  string
		counts map[string]int
	}{
		{"Document types", stats.DocumentTypeCounts},
		{"Content types", stats.ContentTypeCounts},
		{"Files", stats.FileCounts},
	} {
		fmt.Fprintf(os.Stdout, "\n%s:\n", group.title)
		for _, k := range sortedKeys(group.counts) {
			fmt.Fprintf(os.Stdout, "  %-40s %6d\n", k, group.counts[k])
		}
	}
	return nil
}

func runList(ctx context.Context, cmd *cli.Command, a *app) error {
	docType, ok := models.ParseDocType(cmd.String("type"))
	if !ok {
		return cli.Exit(fmt.Sprintf("unknown document type %q", cmd.String("type")), 2)
	}
	ix, err := a.index(ctx)
	if err != nil {
		return err
	}
	page, err := ix.ListByType(ctx, docType, cmd.Int("limit"), cmd.Int("offset"))
	if err != nil {
		return err
	}
	return helper.PrettyPrint(os.Stdout, page)
}

func runClear(ctx context.Context, _ *cli.Command, a *app) error {
	ix, err := a.index(ctx)
	if err != nil {
		return err
	}
	if err := ix.Clear(ctx); err != nil {
		return err
	}
	if err := a.forget(); err != nil {
		return err
	}
	log.Info().Str("collection", a.cfg.Index.Collection).Msg("Collection cleared")
	return nil
}

func runExport(ctx context.Context, cmd *cli.Command, a *app) error {
	if _, err := a.backend(ctx); err != nil {
		return err
	}
	if a.chromem == nil {
		return cli.Exit("export needs the chromem backend", 2)
	}
	path := cmd.Args().First()
	if path == "" {
		path = a.chromem.ExportPath()
	}
	if err := helper.CreateParent(path); err != nil {
		return err
	}
	if err := a.chromem.Export(ctx, path); err != nil {
		return err
	}
	log.Info().Str("file", path).Msg("Collection exported")
	return nil
}

func runImport(ctx context.Context, cmd *cli.Command, a *app) error {
	if _, err := a.backend(ctx); err != nil {
		return err
	}
	if a.chromem == nil {
		return cli.Exit("import needs the chromem backend", 2)
	}
	path := cmd.Args().First()
	if path == "" {
		path = a.chromem.ExportPath()
	}
	if err := a.chromem.Import(ctx, path); err != nil {
		return err
	}
	if err := a.persist(ctx); err != nil {
		return err
	}
	log.Info().Str("file", path).Msg("Collection imported")
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
