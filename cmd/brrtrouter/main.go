// brrtrouter is the thin CLI that exercises the whole BRRTRouter pipeline
// end to end: "serve" runs the dispatcher against a loaded OpenAPI document
// with echo handlers, "generate" scaffolds a handler-stub project, and
// "lint" runs the report-only spec linter. It deliberately never grows its
// own HTTP/1.1 parser or code generator -- net/http plus go-chi/chi cover
// the handful of fixed operational routes.
//
// Grounded on cmd/ratd/main.go's structured-slog-then-wire-dependencies
// shape, signal-driven graceful shutdown, and errCh pattern, generalized
// from a single fixed daemon into serve/generate/lint subcommands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"

	"github.com/brrtrouter/brrtrouter/internal/config"
	"github.com/brrtrouter/brrtrouter/internal/dispatcher"
	"github.com/brrtrouter/brrtrouter/internal/handler"
	"github.com/brrtrouter/brrtrouter/internal/httpfront"
	"github.com/brrtrouter/brrtrouter/internal/linter"
	"github.com/brrtrouter/brrtrouter/internal/metrics"
	"github.com/brrtrouter/brrtrouter/internal/middleware"
	"github.com/brrtrouter/brrtrouter/internal/reload"
	"github.com/brrtrouter/brrtrouter/internal/routing"
	"github.com/brrtrouter/brrtrouter/internal/security"
	"github.com/brrtrouter/brrtrouter/internal/spec"
	"github.com/brrtrouter/brrtrouter/internal/validator"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "generate":
		runGenerate(os.Args[2:])
	case "lint":
		runLint(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `brrtrouter <subcommand> [flags]

Subcommands:
  serve --spec <path> [--watch] [--addr <bind>]   run the dispatcher against a spec with echo handlers
  generate --spec <path> [--force] [--out <dir>]  scaffold a handler-stub project from a spec
  lint --spec <path>                              report spec style/completeness issues, never fails`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	specPath := fs.String("spec", "", "path to the OpenAPI document")
	watch := fs.Bool("watch", false, "hot-reload on spec file changes")
	addr := fs.String("addr", "", "bind address, overrides the default port 8080 (host per BRRTR_LOCAL)")
	_ = fs.Parse(args)

	if *specPath == "" {
		fmt.Fprintln(os.Stderr, "serve: --spec is required")
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	doc, issues, err := spec.Load(ctx, *specPath)
	if err != nil {
		logger.Error("failed to load spec", "path", *specPath, "error", err)
		os.Exit(1)
	}
	for _, issue := range issues {
		logger.Warn("spec issue", "issue", issue.String())
	}

	rawDoc, err := loadRawDocument(*specPath)
	if err != nil {
		logger.Error("failed to re-read spec for security schemes", "error", err)
		os.Exit(1)
	}

	cfgPath := config.ResolvePath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load brrtrouter.yaml", "error", err)
		os.Exit(1)
	}

	table, err := routing.Build(doc.Routes)
	if err != nil {
		logger.Error("failed to build routing table", "error", err)
		os.Exit(1)
	}

	schemes := spec.SecuritySchemesFrom(rawDoc)
	registry, err := security.Build(ctx, cfg.Security, schemes)
	if err != nil {
		logger.Error("failed to build security registry", "error", err)
		os.Exit(1)
	}

	store := metrics.New()
	store.PreregisterRoutes(doc.Routes)

	cors, err := middleware.NewCORS(middleware.CORSOptions{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowCredentials: cfg.CORS.AllowCredentials,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	})
	if err != nil {
		logger.Error("failed to build CORS middleware", "error", err)
		os.Exit(1)
	}

	chain := middleware.NewChain(
		cors,
		middleware.NewTracing(logger),
		middleware.NewAuth(registry, doc.Routes, store.IncAuthFailure),
		middleware.NewMetrics(store.Recorder(), doc.Routes),
	)

	runtimeCfg := config.LoadRuntimeConfig()
	handlers := echoHandlers(doc.Routes)
	validators := validator.New(runtimeCfg.SchemaCacheEnabled)

	disp := dispatcher.New(doc.Routes, table, handlers, chain, validators, runtimeCfg, nil, logger)

	if *watch {
		w, err := reload.New(*specPath, disp, func(routes []spec.RouteDescriptor) map[string]dispatcher.HandlerFunc {
			return echoHandlers(routes)
		}, logger)
		if err != nil {
			logger.Error("failed to start spec watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("spec watcher stopped", "error", err)
			}
		}()
	}

	front := &httpfront.Server{
		RouteCount: func() int { return len(doc.Routes) },
	}

	r := chi.NewRouter()
	r.Use(httpfront.RequestID)
	r.Use(httpfront.RequestLogger)
	r.Get("/health", front.HandleHealth)
	r.Get("/health/live", front.HandleHealthLive)
	r.Get("/health/ready", front.HandleHealthReady)
	r.Get("/capabilities", front.HandleCapabilities)
	r.Handle("/metrics", store.Handler())
	r.Mount("/", dispatcher.HTTPHandler(disp))

	bindAddr := runtimeCfg.BindAddr("8080")
	if *addr != "" {
		bindAddr = *addr
	}

	httpServer := &http.Server{
		Addr:              bindAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	logger.Info("brrtrouter serving", "addr", bindAddr, "routes", len(doc.Routes), "watch", *watch)

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("brrtrouter shutdown complete")
}

func runLint(args []string) {
	fs := flag.NewFlagSet("lint", flag.ExitOnError)
	specPath := fs.String("spec", "", "path to the OpenAPI document")
	_ = fs.Parse(args)

	if *specPath == "" {
		fmt.Fprintln(os.Stderr, "lint: --spec is required")
		os.Exit(2)
	}

	issues, err := linter.Lint(context.Background(), *specPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lint: %v\n", err)
		os.Exit(1)
	}
	if len(issues) == 0 {
		fmt.Println("no issues found")
		return
	}
	for _, issue := range issues {
		fmt.Println(issue.String())
	}
	fmt.Printf("\n%d issue(s) found\n", len(issues))
}

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	specPath := fs.String("spec", "", "path to the OpenAPI document")
	out := fs.String("out", "handlers", "output directory for generated stubs")
	force := fs.Bool("force", false, "overwrite existing stub files")
	_ = fs.Parse(args)

	if *specPath == "" {
		fmt.Fprintln(os.Stderr, "generate: --spec is required")
		os.Exit(2)
	}

	ctx := context.Background()
	doc, issues, err := spec.Load(ctx, *specPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		os.Exit(1)
	}
	spec.PrintIssues(issues)

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		os.Exit(1)
	}

	written := 0
	for _, route := range doc.Routes {
		path := filepath.Join(*out, route.HandlerName+".go")
		if !*force {
			if _, err := os.Stat(path); err == nil {
				continue
			}
		}
		if err := os.WriteFile(path, []byte(stubSource(route)), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "generate: write %s: %v\n", path, err)
			os.Exit(1)
		}
		written++
	}
	fmt.Printf("generated %d handler stub(s) in %s\n", written, *out)
}

func stubSource(route spec.RouteDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "package handlers\n\n")
	fmt.Fprintf(&b, "import (\n\t\"context\"\n\n\t\"github.com/brrtrouter/brrtrouter/internal/handler\"\n)\n\n")
	fmt.Fprintf(&b, "// %s implements %s %s.\n", exportedName(route.HandlerName), route.Method, route.PathPattern)
	fmt.Fprintf(&b, "func %s(_ context.Context, _ *handler.Request) *handler.Response {\n", exportedName(route.HandlerName))
	fmt.Fprintf(&b, "\treturn handler.JSONResponse(501, map[string]string{\"error\": \"not implemented\"})\n")
	fmt.Fprintf(&b, "}\n")
	return b.String()
}

func exportedName(handlerName string) string {
	parts := strings.Split(handlerName, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func loadRawDocument(path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	return loader.LoadFromFile(path)
}

func echoHandlers(routes []spec.RouteDescriptor) map[string]dispatcher.HandlerFunc {
	handlers := make(map[string]dispatcher.HandlerFunc, len(routes))
	for _, r := range routes {
		route := r
		handlers[route.HandlerName] = func(_ context.Context, req *handler.Request) *handler.Response {
			body := map[string]any{
				"handler": route.HandlerName,
				"method":  route.Method,
				"path":    route.PathPattern,
			}
			if len(req.PathParams) > 0 {
				body["path_params"] = req.PathParams
			}
			if len(req.Params) > 0 {
				body["params"] = req.Params
			}
			return handler.JSONResponse(200, body)
		}
	}
	return handlers
}
