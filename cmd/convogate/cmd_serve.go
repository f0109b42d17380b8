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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/user/convogate/internal/api"
	"github.com/user/convogate/internal/config"
	"github.com/user/convogate/internal/delivery"
	"github.com/user/convogate/internal/janitor"
	"github.com/user/convogate/internal/orchestrator"
	"github.com/user/convogate/internal/persistence"
	"github.com/user/convogate/internal/prompt"
	"github.com/user/convogate/internal/telegram"
	"github.com/user/convogate/internal/types"
	"github.com/user/convogate/pkg/llm"
	"github.com/user/convogate/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the convogate daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "convogate.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// newPersistence selects the session store driver.
func newPersistence(cfg *config.Config) (types.SessionPersistence, error) {
	switch cfg.Persistence {
	case "file", "":
		return persistence.NewFileStore(cfg.DataDir), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return persistence.NewRedisStore(client, cfg.RedisTTL()), nil
	case "memory":
		return persistence.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown persistence driver: %s", cfg.Persistence)
	}
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

	store, err := newPersistence(cfg)
	if err != nil {
		return err
	}

	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	engine, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create prompt engine: %w", err)
	}

	// Delivery registry: the orchestrator delivers through it, transports
	// register themselves below.
	deliveryReg := delivery.NewRegistry()

	orch := orchestrator.New(orchestrator.Config{
		LockTimeout:       cfg.LockTimeout(),
		MaxConversations:  cfg.MaxConversations,
		EvictionMarginPct: cfg.EvictionMarginPct,
		MaxPayloadRunes:   cfg.MaxPayloadLength,
		MaxConcurrent:     int64(cfg.MaxConcurrent),
		StatSampleCap:     cfg.StatSampleCap,
		MaxStages:         cfg.MaxStages,
	}, provider, engine, store, deliveryReg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("convogate started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"persistence", cfg.Persistence,
		"max_conversations", cfg.MaxConversations,
		"max_concurrent", cfg.MaxConcurrent,
		"lock_timeout", cfg.LockTimeout(),
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"pid_file", pidPath,
	)

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, orch)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		deliveryReg.Register("telegram:", adapter)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Janitor
	jan := janitor.New(janitor.Config{
		Schedule:         cfg.SweepSchedule,
		DedupMaxAge:      cfg.DedupMaxAge(),
		MaxConversations: cfg.MaxConversations,
	}, orch.Dedup(), orch.Sessions(), orch.Locks())
	if err := jan.Start(); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer jan.Stop()

	// Admin HTTP server
	if cfg.HTTP.Enabled {
		adminSrv := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: api.NewHandler(orch).Router(),
		}
		go func() {
			slog.Info("admin server started", "listen", cfg.HTTP.Listen)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("admin server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			adminSrv.Close()
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
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
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
