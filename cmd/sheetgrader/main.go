package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/sheetgrader/internal/embed"
	"github.com/pavelanni/sheetgrader/internal/grader"
	"github.com/pavelanni/sheetgrader/internal/handler"
	appI18n "github.com/pavelanni/sheetgrader/internal/i18n"
	"github.com/pavelanni/sheetgrader/internal/llm"
	"github.com/pavelanni/sheetgrader/internal/model"
	"github.com/pavelanni/sheetgrader/internal/ocr"
	"github.com/pavelanni/sheetgrader/internal/schema"
	"github.com/pavelanni/sheetgrader/internal/store"
	"github.com/pavelanni/sheetgrader/internal/worker"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sheetgrader",
		Short: "Grade OCR'd exam answer sheets against a model answer",
	}

	serve := serveCmd()
	root.AddCommand(serve, evaluateCmd(), schemaCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `sheetgrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "sheetgrader.db", "SQLite database path")
	f.String("upload-dir", filepath.Join(os.TempDir(), "sheetgrader"), "Directory for uploaded pages awaiting evaluation")
	f.Int("workers", 1, "Number of concurrent evaluations")
	f.Int("queue", 16, "Maximum queued evaluations")
	f.Duration("job-timeout", 15*time.Minute, "Time limit per evaluation (0 = none)")
	f.StringSlice("cors-origins", nil, "Browser origins allowed to call the API (empty disables CORS)")
	addPipelineFlags(f)
	addLogFlags(f)
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Grade one student answer sheet and print the report",
		RunE:  runEvaluate,
	}
	f := cmd.Flags()
	f.StringSlice("question-paper", nil, "Question paper pages, in order (optional, repeatable)")
	f.StringSlice("model-answer", nil, "Model answer pages, in order (repeatable)")
	f.StringSlice("student-answer", nil, "Student answer pages, in order (repeatable)")
	f.String("schema", "", "Schema JSON file that replaces question paper parsing")
	f.String("db", "sheetgrader.db", "SQLite database path for the embedding cache (empty disables it)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addPipelineFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("model-answer")
	_ = cmd.MarkFlagRequired("student-answer")

	return cmd
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [file]",
		Short: "Print the marks schema detected in question paper text",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSchema,
	}
	addLogFlags(cmd.Flags())
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored evaluations with their reports as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "sheetgrader.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	return cmd
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

// addPipelineFlags registers the backend selection and every grading threshold.
func addPipelineFlags(f *pflag.FlagSet) {
	d := model.DefaultGradingConfig()

	f.String("embedder", "hashing", "Embedding backend (hashing, llm)")
	f.String("ocr", "tesseract", "Image text extraction (tesseract, llm)")
	f.String("ocr-lang", "eng", "Tesseract language")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2-vision", "Vision model used for transcription")
	f.String("embed-model", "nomic-embed-text", "Embedding model name")
	f.StringP("lang", "l", d.Lang, "Feedback language (en, ru)")

	f.Float64("strong-match", d.StrongMatch, "Concept similarity that counts as a match on its own")
	f.Float64("keyword-match", d.KeywordMatch, "Concept similarity that matches with a shared keyword")
	f.Float64("fuzzy-match", d.FuzzyMatch, "Concept similarity that matches with a fuzzy keyword")
	f.Int("max-concepts", d.MaxConcepts, "Key concepts extracted per model answer")
	f.Int("window-size", d.WindowSize, "Words per student answer window")
	f.Int("window-stride", d.WindowStride, "Words between window starts")
	f.Int("default-marks", d.DefaultMarks, "Marks per question when the schema has none")
	f.Float64("fallback-similarity", d.FallbackSimilarity, "Minimum similarity for semantic answer matching")
	f.Int("fallback-min-chars", d.FallbackMinChars, "Shortest student answer considered for semantic matching")
	f.Int("fallback-truncate", d.FallbackTruncate, "Characters embedded per answer during semantic matching")
	f.Float64("spelling-cutoff", d.SpellingCutoff, "Minimum similarity for spelling correction")
	f.Float64("page-aware-recover-rate", d.PageAwareRecoverRate, "Share of expected answers below which page-aware parsing runs")
	f.Int("min-segment-chars", d.MinSegmentChars, "Drop question markers with shorter content (0 = automatic)")
}

// gradingConfig reads the thresholds bound in v and validates them.
func gradingConfig(v *viper.Viper) (model.GradingConfig, error) {
	cfg := model.GradingConfig{
		StrongMatch:          v.GetFloat64("strong-match"),
		KeywordMatch:         v.GetFloat64("keyword-match"),
		FuzzyMatch:           v.GetFloat64("fuzzy-match"),
		MaxConcepts:          v.GetInt("max-concepts"),
		WindowSize:           v.GetInt("window-size"),
		WindowStride:         v.GetInt("window-stride"),
		DefaultMarks:         v.GetInt("default-marks"),
		FallbackSimilarity:   v.GetFloat64("fallback-similarity"),
		FallbackMinChars:     v.GetInt("fallback-min-chars"),
		FallbackTruncate:     v.GetInt("fallback-truncate"),
		SpellingCutoff:       v.GetFloat64("spelling-cutoff"),
		PageAwareRecoverRate: v.GetFloat64("page-aware-recover-rate"),
		MinSegmentChars:      v.GetInt("min-segment-chars"),
		Lang:                 v.GetString("lang"),
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid grading config:\n%w", err)
	}
	if langs := appI18n.Languages(); !slices.Contains(langs, cfg.Lang) {
		return cfg, fmt.Errorf("unsupported language %q (available: %s)", cfg.Lang, strings.Join(langs, ", "))
	}
	return cfg, nil
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SHEETGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("sheetgrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/sheetgrader")
	v.AddConfigPath("/etc/sheetgrader")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func newLLMClient(v *viper.Viper) *llm.Client {
	return llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		v.GetString("embed-model"),
	)
}

// newEmbedder builds the embedding backend. LLM embeddings are checked on
// first use and cached in db when it is non-nil.
func newEmbedder(v *viper.Viper, client *llm.Client, db *store.Store) (embed.Embedder, error) {
	switch kind := strings.ToLower(v.GetString("embedder")); kind {
	case "hashing":
		return embed.NewHashing(0), nil
	case "llm":
		lazy := embed.NewLazy(func(ctx context.Context) (embed.Embedder, error) {
			if err := client.Ping(ctx); err != nil {
				return nil, fmt.Errorf("LLM health check: %w", err)
			}
			slog.Info("embedding endpoint OK", "url", v.GetString("llm-url"), "model", client.Model())
			return client, nil
		})
		if db == nil {
			return embed.NewCached(lazy, nil, client.Model()), nil
		}
		if _, err := db.UseEmbeddingModel(client.Model()); err != nil {
			return nil, fmt.Errorf("record embedding model: %w", err)
		}
		return embed.NewCached(lazy, db, client.Model()), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q (want hashing or llm)", kind)
	}
}

func newExtractor(v *viper.Viper, client *llm.Client) (*ocr.Extractor, error) {
	switch kind := strings.ToLower(v.GetString("ocr")); kind {
	case "tesseract":
		t := ocr.NewTesseract()
		t.Lang = v.GetString("ocr-lang")
		if !t.Available() {
			slog.Warn("tesseract not found in PATH, image pages will extract as empty text")
		}
		return ocr.New(t), nil
	case "llm":
		vision, err := ocr.NewVision(client)
		if err != nil {
			return nil, err
		}
		return ocr.New(vision), nil
	default:
		return nil, fmt.Errorf("unknown ocr engine %q (want tesseract or llm)", kind)
	}
}

// newGrader wires the pipeline from flags. db may be nil.
func newGrader(v *viper.Viper, db *store.Store) (*grader.Grader, error) {
	cfg, err := gradingConfig(v)
	if err != nil {
		return nil, err
	}
	if err := appI18n.Init(cfg.Lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}

	client := newLLMClient(v)
	emb, err := newEmbedder(v, client, db)
	if err != nil {
		return nil, err
	}
	extractor, err := newExtractor(v, client)
	if err != nil {
		return nil, err
	}
	return grader.New(extractor, emb, cfg), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	g, err := newGrader(v, db)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := worker.New(g, db, v.GetInt("workers"), v.GetInt("queue"), v.GetDuration("job-timeout"))
	pool.Start(ctx)

	h, err := handler.New(db, pool, v.GetString("upload-dir"))
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	lang := v.GetString("lang")
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept-Language", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"embedder", v.GetString("embedder"),
		"ocr", v.GetString("ocr"),
		"workers", v.GetInt("workers"),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		pool.Wait()
		return fmt.Errorf("serve HTTP: %w", err)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	pool.Wait()
	return nil
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var db *store.Store
	if path := v.GetString("db"); path != "" {
		var err error
		db, err = store.New(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
	}

	g, err := newGrader(v, db)
	if err != nil {
		return err
	}

	var override *model.Schema
	if path := v.GetString("schema"); path != "" {
		override, err = readSchemaFile(path)
		if err != nil {
			return err
		}
	}

	docs := model.Documents{
		QuestionPaper: v.GetStringSlice("question-paper"),
		ModelAnswer:   v.GetStringSlice("model-answer"),
		StudentAnswer: v.GetStringSlice("student-answer"),
	}
	ctx := appI18n.WithLang(cmd.Context(), v.GetString("lang"))
	res, err := g.Run(ctx, docs, override, func(stage model.Stage, percent int) {
		slog.Debug("evaluation progress", "stage", stage, "progress", percent)
	})
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	if err := writeJSON(v.GetString("output"), res.Report); err != nil {
		return err
	}
	slog.Info(appI18n.Tp(ctx, "QuestionsGraded", len(res.Report.Breakdown)),
		"total", res.Report.TotalScore,
		"max", res.Report.MaxScore,
	)
	return nil
}

func readSchemaFile(path string) (*model.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	var s model.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return &s, nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)

	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read question paper: %w", err)
	}

	s := schema.Build(string(data))
	if s.IsEmpty() {
		slog.Warn("no questions with marks detected")
	}
	return writeJSON("-", s)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportEvaluations()
	if err != nil {
		return fmt.Errorf("export evaluations: %w", err)
	}
	return writeJSON(v.GetString("output"), export)
}

// writeJSON writes v indented to outPath, or to stdout for "" and "-".
func writeJSON(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
