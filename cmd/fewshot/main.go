package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/backbone"
	"github.com/ayusman/fewshot/internal/capture"
	"github.com/ayusman/fewshot/internal/config"
	"github.com/ayusman/fewshot/internal/display"
	"github.com/ayusman/fewshot/internal/journal"
	"github.com/ayusman/fewshot/internal/plugin"
	"github.com/ayusman/fewshot/internal/server"
	"github.com/ayusman/fewshot/internal/tray"
)

func main() {
	cfg, usage, err := config.Parse(os.Args)
	if err != nil {
		fmt.Print(usage)
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger logs.Log) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extractor, err := backbone.Open(cfg.Backbone)
	if err != nil {
		return fmt.Errorf("open backbone: %w", err)
	}
	defer extractor.Close()
	logger.Infof("Backbone: %v", cfg.Backbone.Kind)

	a, err := app.New(cfg.App(), capture.NewCamera(cfg.Camera), extractor, logger)
	if err != nil {
		return err
	}

	if cfg.Display.Window || cfg.Display.VideoPath != "" {
		d := display.New(cfg.Display, logger)
		defer d.Close()
		a.AddSource(d)
		a.AddSink(d)
	}

	var j *journal.Journal
	if cfg.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0755); err != nil {
			return fmt.Errorf("create journal directory: %w", err)
		}
		if j, err = journal.New(cfg.JournalPath); err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		rec, err := journal.NewRecorder(j, cfg, cfg.JournalTimingEvery(), logger)
		if err != nil {
			return fmt.Errorf("start journal run: %w", err)
		}
		defer rec.Close()
		a.AddSink(rec)
	}

	if cfg.PluginDir != "" {
		plugins := plugin.NewManager(cfg.PluginDir, logger)
		if err := plugins.Discover(); err != nil {
			return fmt.Errorf("discover plugins: %w", err)
		}
		dispatcher := plugin.NewDispatcher(plugins, plugin.NewExecutor(cfg.PluginTimeout), 0, logger)
		defer dispatcher.Close()
		a.AddSink(dispatcher)
	}

	if cfg.HTTPAddr != "" {
		srv := server.New(server.Config{
			StaticDir:   cfg.StaticDir,
			Commands:    a.Mailbox(),
			MaxClasses:  cfg.Session.MaxClasses,
			StreamScale: cfg.Display.Scale,
			Journal:     j,
			Log:         logger,
		})
		defer srv.Close()
		a.AddSink(srv)
		go func() {
			logger.Infof("Starting server on %v", cfg.HTTPAddr)
			if err := srv.ListenAndServe(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Server failed: %v", err)
			}
		}()
	}

	if !cfg.Tray {
		return a.Run(ctx)
	}

	// The tray owns the main thread; the frame loop runs beside it and
	// stops the tray when it ends.
	tr := tray.New(a.Mailbox(), cfg.Session.MaxClasses)
	a.AddSink(tr)
	if cfg.HTTPAddr != "" {
		url := dashboardURL(cfg.HTTPAddr)
		tr.OnOpen(func() {
			if err := openBrowser(url); err != nil {
				logger.Warnf("Failed to open %v: %v", url, err)
			}
		})
	}
	tr.OnExit(stop)

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
		tr.Quit()
	}()
	tr.Run()
	stop()
	return <-done
}

func dashboardURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
