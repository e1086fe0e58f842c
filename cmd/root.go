package cmd

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/businesswalrus/pup.ai/config"
	"github.com/businesswalrus/pup.ai/infrastructure/valkey"
	"github.com/businesswalrus/pup.ai/pkg/botmonitor"
	"github.com/businesswalrus/pup.ai/pkg/msgworker"
	"github.com/businesswalrus/pup.ai/pkg/websearch"
	"github.com/businesswalrus/pup.ai/responder"
	"github.com/businesswalrus/pup.ai/responder/application"
	"github.com/businesswalrus/pup.ai/responder/domain"
	"github.com/businesswalrus/pup.ai/responder/providers"
	"github.com/businesswalrus/pup.ai/responder/repository"
)

var rootCmd = &cobra.Command{
	Use:   "pup-ai",
	Short: "Conversational AI routing layer",
	Long: `pup.ai sits between a chat platform and multiple LLM backends,
managing conversation context, response caching, grounding and failover.`,
}

var (
	cfg          *config.Config
	valkeyClient *valkey.Client
)

func init() {
	_ = godotenv.Load()

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	cobra.OnInitialize(initConfig, initLogging)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalln(err)
	}
}

func initConfig() {
	loaded, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	cfg = loaded
}

func initLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// buildEngine assembles the stores, the provider adapters and the worker
// pool from the loaded configuration.
func buildEngine() (*responder.Engine, *msgworker.Pool, error) {
	contexts := repository.NewMemoryContextStore(
		repository.WithMaxMessages(cfg.Context.MaxMessages),
		repository.WithTokenBudget(cfg.Context.TokenBudget),
		repository.WithMaxAge(cfg.Context.MaxAge),
	)

	var cacheStore domain.ResponseCacheStore
	if cfg.Valkey.Enabled {
		client, err := valkey.NewClient(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		valkeyClient = client
		cacheStore = repository.NewValkeyResponseCacheStore(client)
		logrus.Infof("[CACHE] Using valkey response cache at %s", cfg.Valkey.Address)
	} else {
		cacheStore = repository.NewMemoryResponseCacheStore(cfg.Cache.MaxEntries)
	}

	cache := application.NewResponseCache(cacheStore, cfg.Cache.TTL, cfg.Cache.ExtraSkipPatterns)
	prompter := application.NewPrompter(cfg.Prompt.SystemPrompt, cfg.Prompt.Templates)

	engine := responder.NewEngine(contexts, cache, application.NewGroundingGate(), prompter,
		responder.WithTimeout(cfg.Providers.Timeout),
		responder.WithTemperature(cfg.Providers.Temperature),
		responder.WithMaxTokens(cfg.Providers.MaxTokens),
		responder.WithHistoryTurns(cfg.Providers.HistoryTurns),
		responder.WithMonitor(botmonitor.New(0)),
	)

	search := websearch.NewClient()
	engine.RegisterProvider(providers.NewOpenAIProvider(cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIModel, search))
	engine.RegisterProvider(providers.NewGeminiProvider(cfg.Providers.GeminiAPIKey, cfg.Providers.GeminiModel))

	if err := engine.ActivateDefault(cfg.Providers.Default); err != nil {
		return nil, nil, err
	}

	pool := msgworker.NewPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)

	return engine, pool, nil
}

// stopApp releases shared resources on shutdown.
func stopApp() {
	if valkeyClient != nil {
		valkeyClient.Close()
	}
}
