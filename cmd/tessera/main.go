// Command tessera is a demo driver for the index library: it creates and
// fills indexes from JSON-lines input, runs term and phrase queries, and
// can serve a small query API with health and metrics endpoints. Text is
// tokenized on whitespace here; real callers bring their own analyzer.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mchaput/tessera"
	"github.com/mchaput/tessera/pkg/config"
	"github.com/mchaput/tessera/pkg/health"
	"github.com/mchaput/tessera/pkg/logger"
	"github.com/mchaput/tessera/pkg/metrics"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	dir := fs.String("dir", "index", "index directory")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch cmd {
	case "index":
		runErr = runIndex(ctx, cfg, *dir, fs.Args())
	case "search":
		runErr = runSearch(ctx, cfg, *dir, fs.Args())
	case "merge":
		runErr = runMerge(ctx, cfg, *dir)
	case "serve":
		runErr = runServe(ctx, cfg, *dir)
	default:
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		slog.Error("command failed", "command", cmd, "error", runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: tessera <command> [flags]

commands:
  index  [-dir DIR] [FILE]          index JSON-lines documents (default stdin)
  search [-dir DIR] FIELD TERM...   query; multiple terms intersect
  merge  [-dir DIR]                 merge all segments, reclaiming deletions
  serve  [-dir DIR]                 query API with /metrics and health probes`)
}

// defaultSchema covers the demo documents: "id" is the unique key, every
// other JSON string property is indexed with positions and stored.
func defaultSchema() (*tessera.Schema, error) {
	return tessera.NewSchema(
		tessera.Field{Name: "id", Indexed: true, Stored: true},
		tessera.Field{Name: "body", Indexed: true, Stored: true, Positions: true},
		tessera.Field{Name: "title", Indexed: true, Stored: true, Positions: true, Cached: true},
	)
}

func openOrCreate(dir string, cfg *config.Config, m *metrics.Metrics) (*tessera.Index, error) {
	opts := []tessera.Option{
		tessera.WithConfig(cfg),
		tessera.WithLogger(slog.Default()),
	}
	if m != nil {
		opts = append(opts, tessera.WithMetrics(m))
	}
	ix, err := tessera.Open(dir, opts...)
	if err == nil {
		return ix, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	schema, err := defaultSchema()
	if err != nil {
		return nil, err
	}
	return tessera.Create(dir, schema, opts...)
}

// tokenize is the demo analyzer: lower-cased whitespace split.
func tokenize(value string) []tessera.Token {
	var toks []tessera.Token
	for i, term := range strings.Fields(strings.ToLower(value)) {
		toks = append(toks, tessera.Token{Term: term, Position: uint32(i)})
	}
	return toks
}

func buildDoc(schema *tessera.Schema, raw map[string]string) (*tessera.Document, error) {
	doc := &tessera.Document{}
	for name, value := range raw {
		if _, ok := schema.Field(name); !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		fv := tessera.FieldValue{Name: name, Value: value}
		if name == "id" {
			fv.Tokens = []tessera.Token{{Term: value}}
		} else {
			fv.Tokens = tokenize(value)
		}
		doc.Add(fv)
	}
	return doc, nil
}

func runIndex(ctx context.Context, cfg *config.Config, dir string, args []string) error {
	in := os.Stdin
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	ix, err := openOrCreate(dir, cfg, nil)
	if err != nil {
		return err
	}
	defer ix.Close()

	w, err := ix.Writer(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	n := 0
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var raw map[string]string
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			w.Cancel()
			return fmt.Errorf("line %d: %w", n+1, err)
		}
		doc, err := buildDoc(ix.Schema(), raw)
		if err != nil {
			w.Cancel()
			return fmt.Errorf("line %d: %w", n+1, err)
		}
		if id, ok := raw["id"]; ok && id != "" {
			err = w.UpdateDocument("id", doc)
		} else {
			err = w.AddDocument(doc)
		}
		if err != nil {
			w.Cancel()
			return err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		w.Cancel()
		return err
	}
	if err := w.Commit(ctx); err != nil {
		return err
	}
	slog.Info("indexed", "docs", n, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func termQuery(r *tessera.Reader, field string, terms []string) (tessera.Matcher, error) {
	kids := make([]tessera.Matcher, 0, len(terms))
	for _, term := range terms {
		m, err := r.Term(field, strings.ToLower(term), nil)
		if err != nil {
			return nil, err
		}
		kids = append(kids, m)
	}
	if len(kids) == 1 {
		return kids[0], nil
	}
	return tessera.And(kids...)
}

func runSearch(ctx context.Context, cfg *config.Config, dir string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("search needs FIELD and at least one TERM")
	}
	ix, err := tessera.Open(dir, tessera.WithConfig(cfg), tessera.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer ix.Close()
	r, err := ix.OpenReader()
	if err != nil {
		return err
	}
	defer r.Close()

	m, err := termQuery(r, args[0], args[1:])
	if err != nil {
		return err
	}
	hits, err := r.Search(ctx, m, cfg.Search.DefaultLimit)
	if err != nil {
		return err
	}
	for rank, h := range hits {
		fields, err := r.StoredFields(h.DocID)
		if err != nil {
			return err
		}
		fmt.Printf("%2d. doc=%d score=%.2f id=%s\n", rank+1, h.DocID, h.Score, fields["id"])
	}
	slog.Info("search done", "hits", len(hits), "live_docs", r.LiveDocCount())
	return nil
}

func runMerge(ctx context.Context, cfg *config.Config, dir string) error {
	ix, err := tessera.Open(dir, tessera.WithConfig(cfg), tessera.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer ix.Close()
	return ix.Merge(ctx)
}

func runServe(ctx context.Context, cfg *config.Config, dir string) error {
	m := metrics.NewWithRegistry()
	ix, err := openOrCreate(dir, cfg, m)
	if err != nil {
		return err
	}
	defer ix.Close()

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		r, err := ix.OpenReader()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		defer r.Close()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d live docs", r.LiveDocCount()),
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/health/live", checker.LiveHandler())
	mux.Handle("/health/ready", checker.ReadyHandler())
	mux.HandleFunc("/search", func(w http.ResponseWriter, req *http.Request) {
		field := req.URL.Query().Get("field")
		terms := req.URL.Query()["term"]
		if field == "" || len(terms) == 0 {
			http.Error(w, "field and term parameters required", http.StatusBadRequest)
			return
		}
		r, err := ix.OpenReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer r.Close()
		matcher, err := termQuery(r, field, terms)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hits, err := r.Search(req.Context(), matcher, cfg.Search.DefaultLimit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type result struct {
			DocID  uint32            `json:"doc_id"`
			Score  float64           `json:"score"`
			Fields map[string]string `json:"fields"`
		}
		results := make([]result, 0, len(hits))
		for _, h := range hits {
			fields, err := r.StoredFields(h.DocID)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			results = append(results, result{DocID: h.DocID, Score: h.Score, Fields: fields})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results)
	})

	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	slog.Info("query server listening", "addr", addr, "dir", dir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
