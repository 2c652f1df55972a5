// Command soporte-live runs a voice support-intake session against Gemini
// Live using the local microphone and speaker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/vango-go/soporte-live/internal/device"
	"github.com/vango-go/soporte-live/pkg/casefeed"
	"github.com/vango-go/soporte-live/pkg/casefile"
	"github.com/vango-go/soporte-live/pkg/config"
	"github.com/vango-go/soporte-live/pkg/core"
	"github.com/vango-go/soporte-live/pkg/live/capture"
	"github.com/vango-go/soporte-live/pkg/live/gemini"
	"github.com/vango-go/soporte-live/pkg/live/playback"
	"github.com/vango-go/soporte-live/pkg/live/session"
	"github.com/vango-go/soporte-live/pkg/live/tools"
	"github.com/vango-go/soporte-live/pkg/metrics"
	"github.com/vango-go/soporte-live/pkg/tracing"
)

type microphone interface {
	capture.Microphone
	Close() error
}

type liveDeps struct {
	loadConfig    func(path string) (*config.Config, error)
	newMicrophone func(*slog.Logger) microphone
	newSpeaker    func(*config.Config) playback.Device
	newDialer     func(gemini.Config) (session.Dialer, error)
	signalNotify  func(chan<- os.Signal, ...os.Signal)
	signalStop    func(chan<- os.Signal)
}

func defaultLiveDeps() liveDeps {
	return liveDeps{
		loadConfig: config.LoadConfig,
		newMicrophone: func(logger *slog.Logger) microphone {
			return device.NewMicrophone(logger)
		},
		newSpeaker: func(cfg *config.Config) playback.Device {
			return device.NewSpeaker(cfg.SpeakerBuffer)
		},
		newDialer: func(cfg gemini.Config) (session.Dialer, error) {
			return gemini.NewDialer(cfg)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

type options struct {
	configPath string
	envFile    string
	identity   string
	listenAddr string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	flags := flag.NewFlagSet("soporte-live", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML or JSON config file")
	flags.StringVar(&opts.envFile, "env", ".env", "dotenv file loaded before the config")
	flags.StringVar(&opts.identity, "email", "", "e-mail address of the user being helped (required)")
	flags.StringVar(&opts.listenAddr, "listen", "", "case feed address, overrides the config (\"off\" disables it)")
	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if strings.TrimSpace(opts.identity) == "" {
		return opts, errors.New("-email is required")
	}
	return opts, nil
}

func setupLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func loadInstruction(path string) (*gemini.Instruction, error) {
	if path == "" {
		return gemini.ParseInstruction("")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruction: %w", err)
	}
	return gemini.ParseInstruction(string(data))
}

func runLive(ctx context.Context, opts options, stdout, stderr io.Writer, deps liveDeps) error {
	if deps.loadConfig == nil || deps.newMicrophone == nil || deps.newSpeaker == nil || deps.newDialer == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	switch opts.listenAddr {
	case "":
	case "off":
		cfg.Feed.ListenAddr = ""
	default:
		cfg.Feed.ListenAddr = opts.listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Log, stderr)
	m := metrics.New("soporte")

	tp, err := tracing.NewProvider(ctx, tracing.Options{
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Headers:     cfg.Tracing.Headers,
		SampleRatio: cfg.Tracing.SampleRatio,
		Writer:      stderr,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	otel.SetTracerProvider(tp)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("shutdown tracing", "error", err)
		}
	}()

	format, err := tools.ParseTicketFormat(cfg.TicketFormat)
	if err != nil {
		return err
	}
	instruction, err := loadInstruction(cfg.InstructionFile)
	if err != nil {
		return err
	}
	dialer, err := deps.newDialer(gemini.Config{
		Model:       cfg.Model,
		Voice:       cfg.Voice,
		Company:     cfg.Company,
		Sender:      cfg.Sender,
		Instruction: instruction,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create dialer: %w", err)
	}

	mic := deps.newMicrophone(logger)
	defer func() {
		if err := mic.Close(); err != nil {
			logger.Warn("close microphone", "error", err)
		}
	}()

	store := casefile.NewStore()
	mgr := session.NewManager(session.Options{
		APIKey:     cfg.APIKey,
		Dialer:     dialer,
		Microphone: mic,
		Speaker:    deps.newSpeaker(cfg),
		Store:      store,
		Tools: tools.Options{
			Sender:     cfg.Sender,
			EmailDelay: cfg.EmailDelay,
			Tickets:    tools.NewTicketGenerator(format, nil),
			Tracer:     otel.Tracer("github.com/vango-go/soporte-live"),
		},
		FrameSize:  cfg.FrameSize,
		OutboxSize: cfg.OutboxSize,
		Logger:     logger,
		Metrics:    m,
	})

	ended := make(chan session.State, 1)
	mgr.OnStateChange(func(s session.State) {
		logger.Info("session state", "state", s)
		if s == session.StateDisconnected || s == session.StateError {
			select {
			case ended <- s:
			default:
			}
		}
	})

	var feed *casefeed.Server
	feedErrCh := make(chan error, 1)
	if cfg.Feed.ListenAddr != "" {
		feed, err = casefeed.NewServer(casefeed.Config{
			Source:         mgr,
			Store:          store,
			VolumeInterval: cfg.Feed.VolumeInterval,
			Metrics:        m,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		go func() { feedErrCh <- feed.ListenAndServe(cfg.Feed.ListenAddr) }()
	}

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	if err := mgr.Connect(ctx, opts.identity); err != nil {
		shutdownFeed(feed, logger)
		if core.IsType(err, core.ErrConfig) {
			return fmt.Errorf("connect: %w (set GEMINI_API_KEY or api_key)", err)
		}
		return fmt.Errorf("connect: %w", err)
	}

	var runErr error
	select {
	case <-ended:
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-feedErrCh:
		if err != nil {
			runErr = fmt.Errorf("case feed: %w", err)
		}
	}

	sessionErr := mgr.Err()
	if err := mgr.Close(); err != nil {
		logger.Warn("close session", "error", err)
	}
	shutdownFeed(feed, logger)

	if err := printCase(stdout, store.Snapshot()); err != nil {
		logger.Warn("print case", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	if sessionErr != nil {
		return fmt.Errorf("session: %w", sessionErr)
	}
	return nil
}

func shutdownFeed(feed *casefeed.Server, logger *slog.Logger) {
	if feed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := feed.Shutdown(ctx); err != nil {
		logger.Warn("shutdown case feed", "error", err)
	}
}

func printCase(w io.Writer, rec casefile.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps liveDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "soporte-live: %v\n", err)
		return 2
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "soporte-live: load %s: %v\n", opts.envFile, err)
		return 1
	}

	if err := runLive(ctx, opts, stdout, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "soporte-live: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultLiveDeps()))
}
