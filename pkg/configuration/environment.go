package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/voltgrid/opsconsole/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the given env files. Files missing from the working directory
// are looked up in the nearest ancestor directory containing go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	root := findModuleRoot()
	for _, file := range envFiles {
		if fileExists(file) {
			existingFiles = append(existingFiles, file)
			continue
		}
		if root == "" || filepath.IsAbs(file) {
			continue
		}
		if candidate := filepath.Join(root, file); fileExists(candidate) {
			existingFiles = append(existingFiles, candidate)
		}
	}

	if len(existingFiles) == 0 {
		return 0, nil
	}

	return len(existingFiles), godotenv.Load(existingFiles...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if fileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"opsconsole"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type LokiOptions struct {
	URL     string `env:"LOKI_URL"`
	AppName string `env:"LOKI_APP_NAME" envDefault:"opsconsole"`
	LogPath string `env:"LOG_PATH" envDefault:"./logs/app.log"`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"opsconsole"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type RateLimitOptions struct {
	Enabled   bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	GlobalRPS int    `env:"RATE_LIMIT_GLOBAL_RPS" envDefault:"1000"`
	Storage   string `env:"RATE_LIMIT_STORAGE" envDefault:"memory"` // memory or redis
	RedisURL  string `env:"RATE_LIMIT_REDIS_URL"`
}

// Validate checks the rate limit configuration for errors
func (r *RateLimitOptions) Validate() error {
	if r.GlobalRPS < 0 {
		return fmt.Errorf("rate limit GlobalRPS must be non-negative, got %d", r.GlobalRPS)
	}
	if r.GlobalRPS > 1000000 {
		return fmt.Errorf("rate limit GlobalRPS too high, maximum is 1,000,000, got %d", r.GlobalRPS)
	}
	if r.Storage != "memory" && r.Storage != "redis" {
		return fmt.Errorf("rate limit Storage must be 'memory' or 'redis', got '%s'", r.Storage)
	}
	if r.Storage == "redis" && r.RedisURL == "" {
		return fmt.Errorf("rate limit RedisURL is required when Storage is 'redis'")
	}
	return nil
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	ConflictPolicyNone           = "none"
	ConflictPolicyRejectPending  = "reject_pending"
	ConflictPolicyDetectAtApply  = "detect_at_apply"
	defaultGovernanceNotifyTopic = "governance.change_requests"
)

type GovernanceOptions struct {
	Store           string `env:"GOVERNANCE_STORE" envDefault:"memory"`
	CatalogPath     string `env:"GOVERNANCE_CATALOG_PATH"`
	SeedPath        string `env:"GOVERNANCE_SEED_PATH"`
	PolicyModelPath string `env:"GOVERNANCE_POLICY_MODEL_PATH"`
	PolicyPath      string `env:"GOVERNANCE_POLICY_PATH"`
	ConflictPolicy  string `env:"GOVERNANCE_CONFLICT_POLICY" envDefault:"none"`
	AutoApply       bool   `env:"GOVERNANCE_AUTO_APPLY" envDefault:"false"`
	NotifyChannel   string `env:"GOVERNANCE_NOTIFY_CHANNEL" envDefault:"governance.change_requests"`
	ActorHeader     string `env:"GOVERNANCE_ACTOR_HEADER" envDefault:"X-Actor-ID"`
	MigrateOnStart  bool   `env:"GOVERNANCE_MIGRATE_ON_START" envDefault:"false"`
}

// Validate normalizes enum-like options and rejects unknown values.
func (g *GovernanceOptions) Validate() error {
	store := strings.ToLower(strings.TrimSpace(g.Store))
	if store == "" {
		store = StoreMemory
	}
	switch store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("invalid GOVERNANCE_STORE=%q (expected memory|postgres)", g.Store)
	}
	g.Store = store

	policy := strings.ToLower(strings.TrimSpace(g.ConflictPolicy))
	if policy == "" {
		policy = ConflictPolicyNone
	}
	switch policy {
	case ConflictPolicyNone, ConflictPolicyRejectPending, ConflictPolicyDetectAtApply:
	default:
		return fmt.Errorf("invalid GOVERNANCE_CONFLICT_POLICY=%q (expected none|reject_pending|detect_at_apply)", g.ConflictPolicy)
	}
	g.ConflictPolicy = policy

	if (g.PolicyModelPath == "") != (g.PolicyPath == "") {
		return fmt.Errorf("GOVERNANCE_POLICY_MODEL_PATH and GOVERNANCE_POLICY_PATH must be set together")
	}
	if strings.TrimSpace(g.NotifyChannel) == "" {
		g.NotifyChannel = defaultGovernanceNotifyTopic
	}
	if strings.TrimSpace(g.ActorHeader) == "" {
		g.ActorHeader = "X-Actor-ID"
	}
	return nil
}

type Configuration struct {
	Database      DatabaseOptions
	Loki          LokiOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	RateLimit     RateLimitOptions
	Governance    GovernanceOptions

	RedisURL         string        `env:"REDIS_URL"`
	ServerPort       int           `env:"PORT" envDefault:"3200"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	GoAppEnvironment string        `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string        `env:"-"`
	Domain           string        `env:"DOMAIN" envDefault:"localhost"`
	Origin           string        `env:"ORIGIN" envDefault:"http://localhost:3200"`
	CORSOrigins      []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"error"`
	// Looked up on every request; a random uuidv4 is generated when absent.
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	// Falls back to request.RemoteAddr when absent.
	RealIPHeader string `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func (c *Configuration) Scheme() string {
	if c.GoAppEnvironment == Production { // assume 'https' on production mode
		return "https"
	}
	return "http"
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := c.parse(); err != nil {
		return err
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.Loki.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	if os.Getenv("ORIGIN") == "" {
		if c.GoAppEnvironment == "development" {
			c.Origin = fmt.Sprintf("%s://%s:%d", c.Scheme(), c.Domain, c.ServerPort)
		} else {
			c.Origin = fmt.Sprintf("%s://%s", c.Scheme(), c.Domain)
		}
	}
	return nil
}

// parse reads the environment into c and validates it, without touching log files.
func (c *Configuration) parse() error {
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit configuration error: %w", err)
	}
	if err := c.Governance.Validate(); err != nil {
		return fmt.Errorf("governance configuration error: %w", err)
	}

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
