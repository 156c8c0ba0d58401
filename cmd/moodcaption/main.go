// Moodcaption serves a one-page form that turns a short description and
// a mood into a single social media caption.
//
// Configuration comes from an optional YAML file (see
// [config.DefaultSearchPaths]), then a .env file in the working
// directory, then the process environment. Without an API key every
// request is answered by the mock caption generator when MOCK_FALLBACK
// is set.
//
// Usage:
//
//	moodcaption serve                          Start the web server
//	moodcaption caption [-mood m] <description> Generate one caption and print it
//	moodcaption version                        Print version and build information
//	moodcaption -o json version                Output version information as JSON
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
	"strings"
	"syscall"
	"time"

	"github.com/nugget/moodcaption/internal/buildinfo"
	"github.com/nugget/moodcaption/internal/caption"
	"github.com/nugget/moodcaption/internal/config"
	"github.com/nugget/moodcaption/internal/gemini"
	"github.com/nugget/moodcaption/internal/throttle"
	"github.com/nugget/moodcaption/internal/web"
)

// main builds the OS-level environment and hands off to [run], keeping
// os.Exit and os.Args out of the code the tests drive.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. args is os.Args[1:]. Arguments are parsed
// by hand because the flag package's globals get in the way of running
// several commands concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "caption":
		return runCaption(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "help", "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Moodcaption - one caption, one mood")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: moodcaption [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                        Start the web server")
	fmt.Fprintln(w, "  caption [-mood m] <text>     Generate a single caption and print it")
	fmt.Fprintln(w, "  version                      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  API_KEY (or GEMINI_API_KEY), MOCK_FALLBACK, ENVIRONMENT_MODE,")
	fmt.Fprintln(w, "  LOG_LEVEL, LOG_FORMAT, PORT. A .env file in the working directory is read first.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// captionResult is the JSON shape printed by "caption -o json".
type captionResult struct {
	Caption string `json:"caption"`
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
}

// runCaption handles "moodcaption caption [-mood m] <description>". It
// runs exactly one request through the same service the web form uses.
// Logs go to stderr so stdout carries only the caption.
func runCaption(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	var mood string
	var words []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-mood" && i+1 < len(args):
			mood = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-mood="):
			mood = strings.TrimPrefix(args[i], "-mood=")
		default:
			words = append(words, args[i])
		}
	}
	if len(words) == 0 {
		return fmt.Errorf("usage: moodcaption caption [-mood m] <description>")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.Level(), cfg.LogFormat)
	warnUnknownMode(logger, cfg)

	svc := newService(cfg, logger)
	out := svc.Generate(ctx, caption.Request{
		ID:          "cli",
		Description: strings.Join(words, " "),
		Mood:        mood,
	})

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(captionResult{Caption: out.Caption, State: string(out.State), Reason: string(out.Reason)})
	}
	fmt.Fprintln(stdout, out.Caption)
	return nil
}

// runServe handles "moodcaption serve". It blocks until SIGINT or
// SIGTERM, then drains in-flight requests before returning.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting moodcaption", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Everything after this point uses the configured level and format.
	logger = newLogger(stdout, cfg.Level(), cfg.LogFormat)

	if cfgPath == "" {
		cfgPath = "(defaults)"
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"environment", cfg.Mode(),
		"endpoint", cfg.Gemini.Endpoint,
		"api_key_set", cfg.Gemini.Configured(),
		"mock_fallback", cfg.MockFallback,
		"throttle", cfg.Throttle.Interval(),
	)
	warnUnknownMode(logger, cfg)
	if !cfg.Gemini.Configured() && !cfg.MockFallback {
		logger.Warn("no API key and mock fallback disabled; every request will show a configuration error")
	}

	server := web.NewWebServer(web.Config{
		Captioner: newService(cfg, logger),
		Logger:    logger,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("web server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(cfg.Listen.Address, cfg.Listen.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("moodcaption stopped", "uptime", buildinfo.Uptime())
	return nil
}

// newService wires the throttle, the Gemini client and the caption
// service from cfg. One throttle is shared by every request the
// returned service handles.
func newService(cfg *config.Config, logger *slog.Logger) *caption.Service {
	th := throttle.New(cfg.Throttle.Interval(), throttle.WithLogger(logger))

	client := gemini.NewClient(gemini.Config{
		Endpoint: cfg.Gemini.Endpoint,
		APIKey:   cfg.Gemini.APIKey,
		Timeout:  cfg.Gemini.Timeout(),
		Logger:   logger,
	})

	return caption.NewService(caption.Config{
		Backend:      client,
		Throttle:     th,
		MockFallback: cfg.MockFallback,
		Generation: gemini.GenerationConfig{
			Temperature:     cfg.Gemini.SamplingTemperature(),
			MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		},
		Logger: logger,
	})
}

func warnUnknownMode(logger *slog.Logger, cfg *config.Config) {
	if cfg.UnknownMode() {
		logger.Warn("unknown environment mode, running as production", "environment", cfg.Environment)
	}
}

// newLogger creates a structured logger writing to w at the given level
// and format. Any format other than "json" yields text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig layers configuration: .env into the environment, then the
// YAML file (explicit, discovered, or built-in defaults when none
// exists), then environment overrides. It returns the validated config
// and the path that was loaded, which is empty for defaults.
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	cfgPath, err := config.FindConfig(explicit)
	switch {
	case err == nil:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	case explicit == "" && errors.Is(err, config.ErrNoConfigFile):
		cfg = config.Default()
		cfgPath = ""
	default:
		return nil, "", err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, cfgPath, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}
