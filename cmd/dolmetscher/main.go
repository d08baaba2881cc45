// Command dolmetscher is a live speech-to-speech translation client. It
// captures the local microphone, streams it to a realtime translation
// provider and plays the translated speech back while printing the running
// transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/dolmetscher/internal/app"
	"github.com/MrWong99/dolmetscher/internal/config"
	"github.com/MrWong99/dolmetscher/internal/observe"
	"github.com/MrWong99/dolmetscher/pkg/audio/device"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
	geminilive "github.com/MrWong99/dolmetscher/pkg/provider/s2s/gemini"
	oais2s "github.com/MrWong99/dolmetscher/pkg/provider/s2s/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "dolmetscher.yaml", "path to the YAML configuration file")
	noConnect := flag.Bool("no-connect", false, "start disconnected; connect via POST /session/start")
	quiet := flag.Bool("quiet", false, "do not print the finalized transcript to stdout")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dolmetscher: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dolmetscher: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("dolmetscher starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithDevices(device.New()),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithLevelVar(level),
		app.WithConfigFile(*configPath),
		app.WithAutoConnect(!*noConnect),
	}
	if !*quiet {
		opts = append(opts, app.WithTranscriptOutput(os.Stdout))
	}
	application, err := app.New(cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready; press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	// Variant A: streaming socket.
	reg.Register(geminilive.Name, func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	// Variant B: peer connection.
	reg.Register(oais2s.Name, func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		if servers := entry.OptionStrings("ice_servers"); len(servers) > 0 {
			opts = append(opts, oais2s.WithICEServers(servers...))
		}
		if raw := entry.OptionString("ice_timeout"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("options.ice_timeout: %w", err)
			}
			opts = append(opts, oais2s.WithICETimeout(d))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	entry, _ := cfg.SelectedProvider()
	s := cfg.Session

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Dolmetscher  startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", providerLabel(entry))
	printRow("Languages", languageLabel(s.SourceLanguage, s.TargetLanguage))
	if s.Voice != "" {
		printRow("Voice", s.Voice)
	}
	printRow("Low latency", onOff(s.LowLatency))
	printRow("Input", deviceLabel(cfg.Audio.InputDevice))
	printRow("Output", deviceLabel(cfg.Audio.OutputDevice))
	if cfg.Server.StatusAddr != "" {
		printRow("Status addr", cfg.Server.StatusAddr)
	} else {
		printRow("Status addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-14s: %-19s ║\n", label, value)
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func languageLabel(src, dst string) string {
	if src == "" {
		src = "auto"
	}
	if dst == "" {
		return src + " (custom prompt)"
	}
	return src + " → " + dst
}

func deviceLabel(name string) string {
	if name == "" {
		return "(system default)"
	}
	return name
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
