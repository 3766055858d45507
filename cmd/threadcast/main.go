package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/threadcast/threadcast/server"
	"github.com/threadcast/threadcast/server/auth"
	"github.com/threadcast/threadcast/server/profile"
	"github.com/threadcast/threadcast/store"
	"github.com/threadcast/threadcast/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "threadcast",
		Short: `Streams AI chat replies paragraph by paragraph into a shared message store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				return err
			}
			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				_ = storeInstance.Close()
				return err
			}
			return s.Start(ctx)
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create the message tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			storeInstance, err := openStore(cmd.Context(), instanceProfile)
			if err != nil {
				return err
			}
			defer storeInstance.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", instanceProfile.Driver)
			return nil
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token <principal-id>",
		Short: "Issue a credential for a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			token, err := auth.NewTokenService(instanceProfile.AuthSecret).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 8081)
	viper.SetDefault("ai-provider", "langchain")
	viper.SetDefault("ai-base-url", profile.DefaultAIBaseURL)
	viper.SetDefault("ai-model", profile.DefaultAIModel)
	viper.SetDefault("max-output-tokens", profile.DefaultMaxOutputTokens)
	viper.SetDefault("max-context-tokens", profile.DefaultMaxContextTokens)
	viper.SetDefault("generation-timeout", profile.DefaultGenerationTimeout)
	viper.SetDefault("session-timeout", profile.DefaultSessionTimeout)

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 8081, "port of server")
	flags.String("data", "", "data directory for the sqlite database")
	flags.String("driver", "", "database driver: sqlite, mysql or postgres; inferred from the dsn when empty")
	flags.String("dsn", "", "database source name")
	flags.String("ai-provider", "langchain", `generation backend, "langchain" or "openai"`)
	flags.String("ai-base-url", profile.DefaultAIBaseURL, "OpenAI-compatible API base url")
	flags.String("ai-model", profile.DefaultAIModel, "model used for replies")
	flags.String("system-prompt", "", "system prompt sent before the conversation")
	flags.Int("max-output-tokens", profile.DefaultMaxOutputTokens, "maximum tokens per reply")
	flags.Int("max-context-tokens", profile.DefaultMaxContextTokens, "estimated token budget for chat history")
	flags.Duration("generation-timeout", profile.DefaultGenerationTimeout, "timeout of the upstream generation call")
	flags.Duration("session-timeout", profile.DefaultSessionTimeout, "timeout of a whole generation session")
	flags.Int("generate-rate", 0, "generation requests per principal per minute, 0 disables")

	for _, name := range []string{
		"mode", "addr", "port", "data", "driver", "dsn",
		"ai-provider", "ai-base-url", "ai-model", "system-prompt",
		"max-output-tokens", "max-context-tokens",
		"generation-timeout", "session-timeout", "generate-rate",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("threadcast")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// Names used by existing deployments.
	mustBindEnv("auth-secret", "THREADCAST_AUTH_SECRET", "ZERO_AUTH_SECRET")
	mustBindEnv("ai-api-key", "THREADCAST_AI_API_KEY", "OPENROUTER_API_KEY")
	mustBindEnv("dsn", "THREADCAST_DSN", "POSTGRES_URL", "ZERO_UPSTREAM_DB")

	rootCmd.AddCommand(migrateCmd, tokenCmd)
}

func mustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic(err)
	}
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:                  viper.GetString("mode"),
		Addr:                  viper.GetString("addr"),
		Port:                  viper.GetInt("port"),
		Data:                  viper.GetString("data"),
		Driver:                viper.GetString("driver"),
		DSN:                   viper.GetString("dsn"),
		AuthSecret:            viper.GetString("auth-secret"),
		AIProvider:            viper.GetString("ai-provider"),
		AIBaseURL:             viper.GetString("ai-base-url"),
		AIAPIKey:              viper.GetString("ai-api-key"),
		AIModel:               viper.GetString("ai-model"),
		SystemPrompt:          viper.GetString("system-prompt"),
		MaxOutputTokens:       viper.GetInt("max-output-tokens"),
		MaxContextTokens:      viper.GetInt("max-context-tokens"),
		GenerationTimeout:     viper.GetDuration("generation-timeout"),
		SessionTimeout:        viper.GetDuration("session-timeout"),
		GenerateRatePerMinute: viper.GetInt("generate-rate"),
	}
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	setupLogger(instanceProfile)
	return instanceProfile, nil
}

func setupLogger(p *profile.Profile) {
	var handler slog.Handler
	if p.IsDev() {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	driver, err := db.NewDBDriver(p)
	if err != nil {
		slog.Error("failed to create db driver", slog.String("error", err.Error()))
		return nil, err
	}
	storeInstance := store.New(driver)
	if err := storeInstance.Migrate(ctx); err != nil {
		slog.Error("failed to migrate", slog.String("error", err.Error()))
		_ = storeInstance.Close()
		return nil, err
	}
	return storeInstance, nil
}

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
