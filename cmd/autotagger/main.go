package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dgnsrekt/dex_autotag/internal/browser"
	"github.com/dgnsrekt/dex_autotag/internal/config"
	"github.com/dgnsrekt/dex_autotag/internal/contacts"
	"github.com/dgnsrekt/dex_autotag/internal/control"
	"github.com/dgnsrekt/dex_autotag/internal/gate"
	"github.com/dgnsrekt/dex_autotag/internal/journal"
	"github.com/dgnsrekt/dex_autotag/internal/netutil"
	"github.com/dgnsrekt/dex_autotag/internal/notify"
	"github.com/dgnsrekt/dex_autotag/internal/tagger"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	os.Exit(run())
}

func run() int {
	contactsFile := flag.String("contacts", "", "contacts CSV file (overrides AUTOTAG_CONTACTS_FILE)")
	engine := flag.String("engine", "", "browser engine: chromedp or playwright (overrides AUTOTAG_ENGINE)")
	headless := flag.Bool("headless", false, "run the browser headless (overrides AUTOTAG_HEADLESS)")
	installPW := flag.Bool("install-playwright", false, "download the playwright driver and Chromium before launching")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	if *contactsFile != "" {
		cfg.ContactsFile = *contactsFile
	}
	if *engine != "" {
		cfg.Engine = strings.ToLower(*engine)
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "headless" {
			cfg.Headless = *headless
		}
	})
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		return 1
	}

	slog.Info("autotagger config loaded",
		"contacts_file", cfg.ContactsFile,
		"engine", cfg.Engine,
		"headless", cfg.Headless,
		"login_url", cfg.LoginURL,
		"detail_url_template", cfg.DetailURLTemplate,
		"indicator_timeout_ms", cfg.IndicatorTimeoutMS,
		"settle_delay_ms", cfg.SettleDelayMS,
		"control_addr", cfg.ControlAddr,
		"journal_dir", cfg.JournalDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	// Input problems must surface before any browser is started.
	records, err := contacts.Read(cfg.ContactsFile)
	if err != nil {
		slog.Error("failed to read contacts", "path", cfg.ContactsFile, "error", err)
		return 1
	}
	slog.Info("contacts loaded", "count", len(records))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	page, err := browser.Open(ctx, browser.Options{
		Engine: cfg.Engine,
		Launch: browser.LaunchConfig{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
			Headless:   cfg.Headless,
		},
		Playwright: browser.PlaywrightConfig{
			Headless: cfg.Headless,
			Install:  *installPW,
		},
	})
	if err != nil {
		slog.Error("failed to open browser", "engine", cfg.Engine, "error", err)
		return 1
	}
	defer func() {
		if err := page.Close(); err != nil {
			slog.Debug("browser close failed", "error", err)
		}
	}()

	// The console is read only once the login page is up.
	latch := gate.New()
	latch.OnFirstWait(func() { gate.ReleaseOnLine(ctx, os.Stdin, latch) })

	runID := uuid.NewString()
	opts := []tagger.Option{tagger.WithRunID(runID)}

	if cfg.JournalDir != "" {
		jw, err := journal.Open(cfg.JournalDir, runID, 25)
		if err != nil {
			slog.Error("failed to open run journal", "dir", cfg.JournalDir, "error", err)
			return 1
		}
		defer func() {
			if err := jw.Close(); err != nil {
				slog.Debug("journal close failed", "error", err)
			}
		}()
		opts = append(opts, tagger.WithRecorder(jw))
	}

	driver := tagger.NewDriver(page, latch, tagger.Options{
		LoginURL:               cfg.LoginURL,
		DetailURLTemplate:      cfg.DetailURLTemplate,
		IDField:                cfg.IDField,
		Trigger:                browser.ByText(cfg.TriggerTag, cfg.TriggerText),
		Indicator:              browser.ByCSS(cfg.IndicatorSelector),
		IndicatorTimeout:       cfg.IndicatorTimeout(),
		TriggerTimeout:         cfg.TriggerTimeout(),
		IndicatorAppearTimeout: cfg.IndicatorAppearTimeout(),
		SettleDelay:            cfg.SettleDelay(),
	}, opts...)

	if cfg.ControlAddr != "" {
		srv, err := startControl(cfg, driver, latch)
		if err != nil {
			slog.Error("failed to select control address", "preferred", cfg.ControlAddr, "error", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("control server shutdown failed", "error", err)
			}
		}()
	}

	runErr := driver.Run(ctx, records)

	if cfg.NotifyURL != "" {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		msg := notify.RunSummary(driver.Status(), runErr)
		if err := notify.Send(notifyCtx, http.DefaultClient, cfg.NotifyURL, msg); err != nil {
			slog.Warn("run notification failed", "error", err)
		}
		cancel()
	}

	if runErr != nil {
		var re *tagger.RunError
		if errors.As(runErr, &re) {
			slog.Error("run aborted", "run_id", runID, "index", re.Index, "contact_id", re.ContactID, "step", re.Step, "error", re.Err)
		} else {
			slog.Error("run aborted", "run_id", runID, "error", runErr)
		}
		return 1
	}
	return 0
}

func startControl(cfg *config.Config, driver *tagger.Driver, latch *gate.Latch) (*http.Server, error) {
	bindAddr, err := netutil.SelectBindAddr(cfg.ControlAddr, cfg.ControlPortCandidates, cfg.ControlPortAutoFallback)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              bindAddr,
		Handler:           control.NewServer(driver, latch),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("control api listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control server failed", "error", err)
		}
	}()
	return srv, nil
}

func setupLogger(level, filename string) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
