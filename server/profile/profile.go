package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the server.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// Addr is the binding address for the server.
	Addr string
	// Port is the binding port for the server.
	Port int
	// Driver is the database driver: sqlite, mysql or postgres. When empty it
	// is inferred from DSN.
	Driver string
	// DSN points to where the messages are stored.
	DSN string
	// Data is the directory for the sqlite database when DSN is empty.
	Data string

	// AuthSecret signs and verifies the jwt credential. It is loaded once at
	// startup and never rotated while the process runs.
	AuthSecret string

	// AIProvider selects the generation backend: "langchain" or "openai".
	AIProvider string
	// AIBaseURL is an OpenAI-compatible chat completions endpoint.
	AIBaseURL string
	AIAPIKey  string
	AIModel   string
	// SystemPrompt, when set, is sent ahead of the conversation history.
	SystemPrompt string

	// MaxOutputTokens caps the length of a generated reply.
	MaxOutputTokens int
	// MaxContextTokens is the estimated token budget for prior messages.
	MaxContextTokens int

	// GenerationTimeout bounds the upstream generation call.
	GenerationTimeout time.Duration
	// SessionTimeout bounds a whole generation session, including store writes.
	SessionTimeout time.Duration

	// GenerateRatePerMinute limits generation requests per principal. Zero disables it.
	GenerateRatePerMinute int
}

const (
	DefaultAIBaseURL         = "https://openrouter.ai/api/v1"
	DefaultAIModel           = "meta-llama/llama-3.2-1b-instruct"
	DefaultMaxOutputTokens   = 1024
	DefaultMaxContextTokens  = 2048
	DefaultGenerationTimeout = 2 * time.Minute
	DefaultSessionTimeout    = 5 * time.Minute
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func (p *Profile) Address() string {
	return fmt.Sprintf("%s:%d", p.Addr, p.Port)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
	}
	return dataDir, nil
}

// driverFromDSN guesses the driver for deployments that only provide a
// connection string, such as POSTGRES_URL.
func driverFromDSN(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.Contains(dsn, "@tcp("), strings.Contains(dsn, "@unix("):
		return "mysql"
	default:
		return "sqlite"
	}
}

// Validate fills defaults and rejects configurations the server cannot run with.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		p.Mode = "dev"
	}
	if p.AuthSecret == "" {
		return errors.New("auth secret is required")
	}

	switch p.Driver {
	case "":
		p.Driver = driverFromDSN(p.DSN)
	case "sqlite", "mysql", "postgres":
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		if p.Data == "" {
			p.Data = "."
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("threadcast_%s.db", p.Mode))
	}
	if p.DSN == "" {
		return errors.Errorf("dsn is required for driver %s", p.Driver)
	}

	switch p.AIProvider {
	case "":
		p.AIProvider = "langchain"
	case "langchain", "openai":
	default:
		return errors.Errorf("unsupported ai provider %q", p.AIProvider)
	}
	if p.AIBaseURL == "" {
		p.AIBaseURL = DefaultAIBaseURL
	}
	if p.AIModel == "" {
		p.AIModel = DefaultAIModel
	}
	if p.MaxOutputTokens <= 0 {
		p.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if p.MaxContextTokens <= 0 {
		p.MaxContextTokens = DefaultMaxContextTokens
	}
	if p.GenerationTimeout <= 0 {
		p.GenerationTimeout = DefaultGenerationTimeout
	}
	if p.SessionTimeout <= 0 {
		p.SessionTimeout = DefaultSessionTimeout
	}
	if p.SessionTimeout < p.GenerationTimeout {
		return errors.Errorf("session timeout %s is shorter than generation timeout %s", p.SessionTimeout, p.GenerationTimeout)
	}
	return nil
}
