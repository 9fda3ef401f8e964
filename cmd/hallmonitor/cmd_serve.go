package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/hallmonitor/internal/chat"
	"github.com/user/hallmonitor/internal/inputlock"
	"github.com/user/hallmonitor/internal/netcontrol"
	"github.com/user/hallmonitor/internal/scheduler"
	"github.com/user/hallmonitor/internal/screen"
	"github.com/user/hallmonitor/internal/session"
	"github.com/user/hallmonitor/internal/statusapi"
	"github.com/user/hallmonitor/internal/transfer"
	"github.com/user/hallmonitor/internal/transport"
	"github.com/user/hallmonitor/internal/webfilter"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "hallmonitor.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Subsystems
	chats := chat.NewStore(cfg.Chat.HistoryLimit)
	assembler := transfer.NewAssembler(time.Duration(cfg.Transfer.SessionTimeout) * time.Second)
	storage := transfer.NewStorage(filepath.Join(cfg.DataDir, "uploads"))
	streamer := screen.NewStreamer(screen.DisplayCapturer{})
	locks := inputlock.NewManager(inputlock.NewDirectory())
	filter := webfilter.New("")
	firewall := netcontrol.NewFirewall()

	// Transport and controller
	client := transport.NewClient(transport.WebSocketURL(cfg.ServerURL))
	ctrl := session.NewController(session.Deps{
		Transport: client,
		Locks:     locks,
		Chats:     chats,
		Assembler: assembler,
		Storage:   storage,
		Streamer:  streamer,
		Filter:    filter,
		Firewall:  firewall,
		Prober:    netcontrol.ICMPProber{},
		Power:     session.SystemPower{},
		ChunkSize: cfg.Transfer.ChunkSize,
	}, int64(cfg.MaxConcurrent))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("controller stopped", "error", err)
		}
	}()
	defer locks.ReleaseAll()

	slog.Info("hallmonitor started",
		"client_id", ctrl.ClientID(),
		"server_url", cfg.ServerURL,
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"pid_file", pidPath,
	)

	// Scheduler: periodic telemetry plus transfer-session expiry.
	sched := scheduler.New(
		scheduler.Task{
			Name:     "telemetry-report",
			Schedule: cfg.Telemetry.Schedule,
			Run: func() {
				if !client.Connected() {
					return
				}
				if err := ctrl.ReportTelemetry(); err != nil {
					slog.Error("telemetry report failed", "error", err)
				}
			},
		},
		scheduler.Task{
			Name:     "transfer-sweep",
			Schedule: "@every 1m",
			Run: func() {
				for _, err := range assembler.Sweep() {
					slog.Warn("transfer session expired", "error", err)
				}
			},
		},
	)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Local status API
	if cfg.HTTP.Enabled {
		statusSrv := statusapi.NewServer(ctrl, client, locks, chats)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: statusSrv,
		}
		go func() {
			slog.Info("status API started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("status API error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Release grabs and clean up PID file before re-exec
			locks.ReleaseAll()
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
