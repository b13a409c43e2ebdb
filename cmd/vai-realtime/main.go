package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-realtime/pkg/core/realtime"
	"github.com/vango-go/vai-realtime/pkg/core/realtime/echo"
	"github.com/vango-go/vai-realtime/pkg/core/realtime/gemini"
	"github.com/vango-go/vai-realtime/pkg/core/realtime/openai"
	"github.com/vango-go/vai-realtime/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-realtime/pkg/gateway/server"
)

type options struct {
	configPath string
	envFile    string
	addr       string
	backend    string
	help       bool
}

type runDeps struct {
	loadConfig func(path string) (config.Config, error)
	newRuntime func(context.Context, config.Config) (realtime.Runtime, error)
	onListen   func(net.Addr)
}

func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig: config.Load,
		newRuntime: newRuntime,
	}
}

func parseFlags(args []string, stderr io.Writer) (options, *pflag.FlagSet, error) {
	var opts options
	flagSet := pflag.NewFlagSet("vai-realtime", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to a TOML, YAML or JSON config file")
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.StringVar(&opts.addr, "addr", "", "listen address (overrides VAI_REALTIME_ADDR)")
	flagSet.StringVar(&opts.backend, "backend", "", "runtime backend: echo, openai or gemini (overrides VAI_REALTIME_BACKEND)")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		return options{}, flagSet, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, flagSet, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, flagSet, nil
}

func loadEnvFile(path string, explicit bool) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newRuntime(ctx context.Context, cfg config.Config) (realtime.Runtime, error) {
	switch cfg.Backend {
	case config.BackendEcho:
		return echo.New(echo.Config{TurnGap: cfg.EchoTurnGap}), nil
	case config.BackendOpenAI:
		return openai.New(openai.Config{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			BaseWSURL:    cfg.OpenAIBaseURL,
			WriteTimeout: cfg.WSWriteTimeout,
		})
	case config.BackendGemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			APIVersion: cfg.GeminiAPIVersion,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func run(ctx context.Context, opts options, stderr io.Writer, deps runDeps) error {
	if deps.loadConfig == nil || deps.newRuntime == nil {
		return errors.New("missing run dependency")
	}

	cfg, err := deps.loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.addr != "" || opts.backend != "" {
		if opts.addr != "" {
			cfg.Addr = opts.addr
		}
		if opts.backend != "" {
			cfg.Backend = config.Backend(strings.ToLower(opts.backend))
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	logger := newLogger(cfg, stderr)

	rt, err := deps.newRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create %s runtime: %w", cfg.Backend, err)
	}
	gw, err := gatewayserver.New(cfg, logger, rt)
	if err != nil {
		return err
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if deps.onListen != nil {
		deps.onListen(ln.Addr())
	}
	logger.Info("starting realtime gateway", "addr", ln.Addr().String(), "backend", cfg.Backend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down realtime gateway")
		gw.SetDraining()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		var errs []error
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
		if err := gw.CloseSessions(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("realtime gateway stopped")
	return nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `vai-realtime: websocket gateway between audio clients and a realtime agent runtime.

Usage:
  vai-realtime [flags]

Flags:
%s
Configuration is read from the optional config file, then VAI_REALTIME_*
environment variables.
`, flagSet.FlagUsages())
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps runDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	opts, flagSet, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) || (err == nil && opts.help) {
		printHelp(stderr, flagSet)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "vai-realtime: %v\n", err)
		return 2
	}

	if err := loadEnvFile(opts.envFile, flagSet.Changed("env-file")); err != nil {
		fmt.Fprintf(stderr, "vai-realtime: %v\n", err)
		return 1
	}
	if err := run(ctx, opts, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "vai-realtime: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stderr, defaultRunDeps())
	stop()
	os.Exit(code)
}
