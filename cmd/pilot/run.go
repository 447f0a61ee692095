package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"AccountPilot/internal/metrics"
	"AccountPilot/internal/notifier"
	"AccountPilot/internal/pilot"
	"AccountPilot/internal/recorder"
	"AccountPilot/internal/remote"
)

var (
	autoStart bool
	dryRun    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine until interrupted",
	RunE:  runPilot,
}

func init() {
	runCmd.Flags().BoolVar(&autoStart, "autostart", os.Getenv("RUN_ON_START") == "true", "Start the round-robin run immediately")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use a scripted in-process remote instead of the real service")
}

func runPilot(cmd *cobra.Command, args []string) error {
	log.Println("[INFO] AccountPilot starting...")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	opts := pilot.Options{Recorder: rec}
	if dryRun {
		log.Println("[INFO] dry run: using scripted remote")
		opts.Client = dryRunClient()
	}

	var bot *notifier.Bot
	if cfg.Telegram.BotToken != "" {
		bot = notifier.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		opts.Notifier = bot
	}

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New()
		opts.Metrics = m
	}

	p, err := pilot.New(cfg, opts)
	if err != nil {
		return fmt.Errorf("init pilot: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if m != nil {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Printf("[ERROR] metrics server: %v", err)
			}
		}()
	}
	if bot != nil {
		go bot.StartPolling(ctx, p.HandleCommand)
		log.Println("[INFO] Telegram polling started")
	}

	if autoStart {
		if err := p.Start(nil); err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
	}

	log.Println("[INFO] AccountPilot is running. Press Ctrl+C to stop.")
	err = p.Run(ctx)
	log.Println("[INFO] AccountPilot stopped")
	return err
}

// dryRunClient answers every call successfully; funds shrink by one unit
// per read so rounds eventually complete.
func dryRunClient() remote.Client {
	mock := remote.NewMockClient()
	var balance atomic.Int64
	balance.Store(20000)
	mock.Default = func(req remote.Request) remote.Outcome {
		switch req.Endpoint {
		case remote.EndpointRefresh:
			return remote.OK(map[string]any{"session_token": "dry-run", "expires_in": float64(3600)})
		case remote.EndpointFunds:
			b := balance.Add(-1000)
			if b < 0 {
				b = 0
			}
			return remote.OK(map[string]any{"balance": float64(b)})
		case remote.EndpointPurchase, remote.EndpointSpin:
			return remote.OK(map[string]any{"prize": "dry-run"})
		}
		return remote.OK(nil)
	}
	return mock
}
