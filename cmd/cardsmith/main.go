package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"cardsmith/internal"
	"cardsmith/internal/auth"
	"cardsmith/internal/completion"
	"cardsmith/internal/config"
	"cardsmith/internal/connectors"
	"cardsmith/internal/listener"
	"cardsmith/internal/pipeline"
	"cardsmith/internal/server"
	"cardsmith/internal/storage"
	"cardsmith/internal/transcript"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "serve":
		must(cfg.Validate())
		authSvc, err := auth.NewService(db, cfg)
		must(err)
		srv := server.NewServer(server.Deps{
			Config:      cfg,
			DB:          db,
			Auth:        authSvc,
			Generator:   newGenerator(cfg, logger),
			Transcripts: transcript.NewFetcher(cfg),
			Logger:      logger,
		})
		logger.Info("server.start", "port", cfg.HTTPPort)
		must(srv.Run())
	case "generate":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		count := fs.Int("n", cfg.DefaultNumCards, "number of cards (1-20)")
		format := fs.String("format", "", "declared format (plain|markdown|pdf|docx|pptx|csv|xlsx|html|eml)")
		subject := fs.String("subject", "", "subject hint")
		lang := fs.String("lang", "", "target language")
		out := fs.String("out", "", "export path (.xlsx|.pdf|.apkg); with several inputs the input name is prefixed")
		workers := fs.Int("workers", 2, "documents processed concurrently")
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() == 0 {
			must(fmt.Errorf("at least one input file is required"))
		}
		must(cfg.Validate())
		must(generateFiles(ctx, db, newGenerator(cfg, logger), fs.Args(), generateOptions{
			count:   *count,
			format:  *format,
			subject: *subject,
			lang:    *lang,
			out:     *out,
			workers: *workers,
		}))
	case "youtube":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		url := fs.String("url", "", "video URL")
		count := fs.Int("n", cfg.DefaultNumCards, "number of cards (1-20)")
		subject := fs.String("subject", "", "subject hint")
		lang := fs.String("lang", "", "target language")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*url) == "" {
			must(fmt.Errorf("--url is required"))
		}
		must(cfg.Validate())
		videoID, err := transcript.ExtractVideoID(*url)
		must(err)
		text, err := transcript.NewFetcher(cfg).Fetch(ctx, videoID)
		must(err)
		doc := internal.SourceDocument{Name: videoID, Format: internal.FormatTranscript, Content: []byte(text)}
		res, err := newGenerator(cfg, logger).Run(ctx, doc, *count, *subject, *lang)
		recordRun(db, "generate", "youtube:"+videoID, *count, res, err)
		must(err)
		printCards(res.Cards)
	case "improve", "translate":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		question := fs.String("q", "", "question")
		answer := fs.String("a", "", "answer")
		lang := fs.String("lang", "", "target language (translate)")
		_ = fs.Parse(os.Args[2:])
		must(cfg.Validate())
		card, err := internal.NewFlashcard(*question, *answer)
		must(err)
		req := internal.TransformRequest{Op: internal.TransformOp(cmd), Card: card, TargetLanguage: *lang}
		res, err := newGenerator(cfg, logger).Transform(ctx, req)
		must(db.InsertRun(internal.RunRecord{
			TraceID:   res.TraceID,
			Operation: cmd,
			Source:    "cli",
			Timings:   res.Timings,
			ErrorKind: string(internal.KindOf(err)),
		}))
		must(err)
		printCards([]internal.Flashcard{res.Card})
		if res.Fallback {
			fmt.Println("reply could not be parsed; original card kept")
		}
	case "user:add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		username := fs.String("username", "", "username")
		password := fs.String("password", "", "password")
		_ = fs.Parse(os.Args[2:])
		authSvc, err := auth.NewService(db, cfg)
		must(err)
		user, err := authSvc.Register(*username, *password)
		must(err)
		fmt.Printf("user created id=%d username=%s\n", user.ID, user.Username)
	case "decks":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 50, "max decks")
		_ = fs.Parse(os.Args[2:])
		decks, err := db.ListDecks(nil, *limit)
		must(err)
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Name", "Source", "Cards", "Created"})
		for _, d := range decks {
			table.Append([]string{strconv.Itoa(d.ID), d.Name, d.Source, strconv.Itoa(len(d.Cards)), d.CreatedAt})
		}
		table.Render()
	case "runs":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 20, "max runs")
		_ = fs.Parse(os.Args[2:])
		runs, err := db.ListRuns(*limit)
		must(err)
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Trace", "Operation", "Source", "Cards", "Error"})
		for _, r := range runs {
			table.Append([]string{r.TraceID, r.Operation, r.Source, strconv.Itoa(r.Counts["cards"]), r.ErrorKind})
		}
		table.Render()
	case "export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		deckID := fs.Int("deck", 0, "deck id")
		out := fs.String("out", "", "output path (.xlsx|.pdf|.apkg)")
		style := fs.String("style", "", "pdf style (Classic|Modern|Minimalist|Colorful)")
		_ = fs.Parse(os.Args[2:])
		if *deckID == 0 || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--deck and --out are required"))
		}
		deck, err := db.MustDeck(*deckID)
		must(err)
		if len(deck.Cards) == 0 {
			must(fmt.Errorf("deck %d has no cards", *deckID))
		}
		must(pipeline.ExportCards(deck.Cards, deck.Name, *out, pipeline.PDFOptions{Title: deck.Name, Style: pipeline.PDFStyle(*style)}))
		fmt.Printf("exported %d cards to %s\n", len(deck.Cards), *out)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		maxMessages := fs.Int("max", cfg.MailListenerFetchMax, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := listener.NewConnector(ctx, cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn)
		result, err := fetch.FetchAndStore(ctx, *label, *maxMessages)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d new=%d\n", *provider, result.Fetched, result.New)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", cfg.MailListenerProcessBatch, "batch size")
		_ = fs.Parse(os.Args[2:])
		must(cfg.Validate())
		processor := pipeline.NewProcessingService(db, newGenerator(cfg, logger), cfg)
		if strings.TrimSpace(*messageID) != "" {
			res, err := processor.ProcessByProviderMessageID(ctx, *provider, *messageID)
			must(err)
			fmt.Printf("processed message inbox=%d status=%s cards=%d\n", res.InboxID, res.Status, res.Cards)
			return
		}
		summary, err := processor.ProcessPending(ctx, *batch, *provider)
		must(err)
		fmt.Printf("processed pending processed=%d skipped=%d failed=%d cards=%d\n", summary.Processed, summary.Skipped, summary.Failed, summary.Cards)
	case "mail:listen":
		must(cfg.Validate())
		processor := pipeline.NewProcessingService(db, newGenerator(cfg, logger), cfg)
		must(listener.NewService(db, cfg, processor).Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func newGenerator(cfg config.Config, logger *slog.Logger) *pipeline.Orchestrator {
	opts := pipeline.OptionsFromConfig(cfg)
	opts.Logger = logger
	return pipeline.NewOrchestrator(completion.NewClient(cfg).WithLogger(logger), opts)
}

type generateOptions struct {
	count   int
	format  string
	subject string
	lang    string
	out     string
	workers int
}

type generated struct {
	path string
	res  pipeline.Result
	err  error
}

// generateFiles runs every input through the pipeline, saves a deck per
// successful input and prints a summary table. One failing input does not
// stop the others; the command fails if any input failed.
func generateFiles(ctx context.Context, db *storage.DB, gen *pipeline.Orchestrator, paths []string, opts generateOptions) error {
	results := make([]generated, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for i, path := range paths {
		g.Go(func() error {
			res, err := generateOne(gctx, gen, path, opts)
			mu.Lock()
			results[i] = generated{path: path, res: res, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Input", "Cards", "Duplicates", "Deck", "Trace", "Error"})
	for _, r := range results {
		source := "cli:" + filepath.Base(r.path)
		recordRun(db, "generate", source, opts.count, r.res, r.err)
		if r.err != nil {
			failed++
			table.Append([]string{r.path, "0", "0", "", r.res.TraceID, r.err.Error()})
			continue
		}

		name := strings.TrimSpace(opts.subject)
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
		}
		deckID, err := db.SaveDeck(internal.Deck{Name: name, Source: source, Cards: r.res.Cards})
		if err != nil {
			return err
		}
		if opts.out != "" {
			if err := pipeline.ExportCards(r.res.Cards, name, exportPath(opts.out, r.path, len(paths)), pipeline.PDFOptions{Title: name}); err != nil {
				return err
			}
		}
		table.Append([]string{r.path, strconv.Itoa(len(r.res.Cards)), strconv.Itoa(r.res.Duplicates), strconv.Itoa(deckID), r.res.TraceID, ""})
	}
	table.Render()

	if len(paths) == 1 && failed == 0 {
		printCards(results[0].res.Cards)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(paths))
	}
	return nil
}

func generateOne(ctx context.Context, gen *pipeline.Orchestrator, path string, opts generateOptions) (pipeline.Result, error) {
	doc, err := pipeline.LoadSourceDocument(path, opts.format)
	if err != nil {
		return pipeline.Result{}, err
	}
	return gen.Run(ctx, doc, opts.count, opts.subject, opts.lang)
}

func exportPath(out, input string, inputs int) string {
	if inputs <= 1 {
		return out
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(filepath.Dir(out), base+"_"+filepath.Base(out))
}

func recordRun(db *storage.DB, operation, source string, requested int, res pipeline.Result, err error) {
	run := internal.RunRecord{
		TraceID:   res.TraceID,
		Operation: operation,
		Source:    source,
		Timings:   res.Timings,
		Counts:    map[string]int{"requested": requested, "cards": len(res.Cards), "duplicates": res.Duplicates},
		ErrorKind: string(internal.KindOf(err)),
	}
	if recErr := db.InsertRun(run); recErr != nil {
		slog.Warn("run.record.error", "error", recErr)
	}
}

func printCards(cards []internal.Flashcard) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Question", "Answer"})
	table.SetAutoWrapText(true)
	for i, c := range cards {
		table.Append([]string{strconv.Itoa(i + 1), c.Question, c.Answer})
	}
	table.Render()
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usage() {
	fmt.Println(`cardsmith commands:
  serve
  generate [--n 5] [--format md] [--subject S] [--lang L] [--out deck.apkg] [--workers 2] FILE...
  youtube --url URL [--n 5] [--subject S] [--lang L]
  improve --q QUESTION --a ANSWER
  translate --q QUESTION --a ANSWER --lang LANGUAGE
  user:add --username U --password P
  decks [--limit 50]
  runs [--limit 20]
  export --deck ID --out path.(xlsx|pdf|apkg) [--style Modern]
  mail:fetch [--provider gmail|imap] [--label INBOX] [--max 50]
  mail:process [--provider gmail|imap] [--messageId ID] [--batch 20]
  mail:listen`)
}
