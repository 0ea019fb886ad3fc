package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/convoflow/convoflow/pkg/api"
	"github.com/convoflow/convoflow/pkg/auth"
	"github.com/convoflow/convoflow/pkg/config"
	"github.com/convoflow/convoflow/pkg/effects"
	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/gateway"
	"github.com/convoflow/convoflow/pkg/knowledge"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/rag"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/scheduler"
	"github.com/convoflow/convoflow/pkg/scripting"
	"github.com/convoflow/convoflow/pkg/secrets"
	"github.com/convoflow/convoflow/pkg/session"
	"github.com/convoflow/convoflow/pkg/storage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the convoflow server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

// vaultCredentials adapts the secret vault to the engine's credential
// contract.
type vaultCredentials struct {
	vault *secrets.Vault
}

func (c vaultCredentials) ProviderKey(_ context.Context, tenantID, provider string) (string, error) {
	return c.vault.ProviderKey(tenantID, provider)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

func serve(cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Logging.Level)

	provider, err := storage.NewProvider(cfg.Storage)
	if err != nil {
		return err
	}
	if err := provider.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer provider.Close()

	var sessions session.Store
	switch cfg.Sessions.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.Redis.Addr,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		sessions = session.NewRedisStore(client, time.Duration(cfg.Sessions.TTLMinutes)*time.Minute)
	default:
		sessions = session.NewMemoryStore()
	}

	// Without a configured passphrase the vault still opens, but with an
	// ephemeral key: stored secrets do not survive a restart.
	if cfg.Secrets.Passphrase == "" {
		cfg.Secrets.Passphrase = randomHex(32)
		cfg.Secrets.Salt = randomHex(16)
		logger.Warn("no vault passphrase configured, using an ephemeral key")
	}
	vault, err := secrets.NewVault(provider.GetSecretStore(), cfg.Secrets.Passphrase, cfg.Secrets.Salt, logger)
	if err != nil {
		return fmt.Errorf("failed to open secret vault: %w", err)
	}

	var retriever knowledge.Retriever
	if cfg.Knowledge.BaseURL != "" {
		timeout := time.Duration(cfg.Knowledge.TimeoutSeconds) * time.Second
		retriever = knowledge.NewHTTPRetriever(cfg.Knowledge.BaseURL, cfg.Knowledge.APIKey, timeout)
	} else {
		retriever = knowledge.NewMemoryRetriever()
	}
	knowledgeService := knowledge.NewService(retriever, logger)

	var gwOpts []gateway.Option
	if cfg.Engine.HTTPTimeoutSeconds > 0 {
		gwOpts = append(gwOpts, gateway.WithHTTPTimeout(time.Duration(cfg.Engine.HTTPTimeoutSeconds)*time.Second))
	}
	gw := gateway.New(logger, gwOpts...)
	pipeline := rag.NewPipeline(knowledgeService, gw, logger)
	flowRegistry := registry.New(provider.GetFlowStore(), logger)

	eng := engine.New(pipeline, scripting.NewGojaEvaluator(), flowRegistry, vaultCredentials{vault}, logger, engine.Options{
		MaxSteps:           cfg.Engine.MaxSteps,
		HTTPTimeout:        time.Duration(cfg.Engine.HTTPTimeoutSeconds) * time.Second,
		ClarificationReply: cfg.Engine.ClarificationReply,
		FallbackReply:      cfg.Engine.FallbackReply,
		DefaultProvider:    cfg.Engine.DefaultProvider,
		DefaultModel:       cfg.Engine.DefaultModel,
	})

	dispatcher := effects.NewDispatcher(cfg.Effects, logger)
	sched := scheduler.New(eng, dispatcher, logger)
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(cfg, api.Deps{
		Engine:     eng,
		Registry:   flowRegistry,
		Sessions:   sessions,
		Vault:      vault,
		Dispatcher: dispatcher,
		Scheduler:  sched,
		Knowledge:  knowledgeService,
		JWT:        auth.NewJWTService(cfg.Auth.JWTSecret, 24),
		Logger:     logger,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", logging.F("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Stop(ctx)
	}
}
