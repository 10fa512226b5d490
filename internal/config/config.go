package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for deskbot. It is constructed once at
// startup and passed by reference into each component's constructor; there is
// no ambient or global lookup.
type Config struct {
	General      GeneralConfig               `json:"general"`
	Orchestrator OrchestratorConfig          `json:"orchestrator"`
	Dependencies map[string]DependencyConfig `json:"dependencies"`
	Connectors   map[string]ConnectorConfig  `json:"connectors"`
	Store        StoreConfig                 `json:"store"`
	Gateway      GatewayConfig               `json:"gateway"`
	Metrics      MetricsConfig               `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel     string `json:"logLevel"`
	LogFile      string `json:"logFile,omitempty"`
	PlaybookDir  string `json:"playbookDir"` // YAML intent/fallback definitions
	BusBufferSize int   `json:"busBufferSize,omitempty"`
}

// OrchestratorConfig tunes the dialog state machine, routing, and handoff
// triggers.
type OrchestratorConfig struct {
	ConfidenceFloor           float64 `json:"confidenceFloor"`           // below: no-match
	ConfirmationThreshold     float64 `json:"confirmationThreshold"`     // below: disambiguation turn
	MaxSlotRetries            int     `json:"maxSlotRetries"`            // slot prompts before forced handoff
	MaxNoMatchBeforeHandoff   int     `json:"maxNoMatchBeforeHandoff"`
	SentimentHandoffThreshold float64 `json:"sentimentHandoffThreshold"` // at or below: handoff
	SessionTTLSeconds         int     `json:"sessionTTLSeconds"`
	MaxQueuedTurns            int     `json:"maxQueuedTurns"`            // per-session queue depth
	TranscriptRetention       int     `json:"transcriptRetention"`       // transcript entries kept
	VersionRetryBudget        int     `json:"versionRetryBudget"`        // conflict re-applies before giving up
	HandoffMaxAttempts        int     `json:"handoffMaxAttempts"`        // delivery retries to the human queue
	KnowledgeTopK             int     `json:"knowledgeTopK"`
}

// DependencyConfig tunes the circuit breaker and hard timeout wrapped around
// one named external dependency (classifier, sentiment, knowledge, ticket,
// human_queue).
type DependencyConfig struct {
	TimeoutMs         int `json:"timeoutMs"`
	FailureThreshold  int `json:"failureThreshold"`
	WindowMs          int `json:"windowMs"`          // sliding window for counting failures
	ResetTimeoutMs    int `json:"resetTimeoutMs"`    // initial open duration
	MaxResetTimeoutMs int `json:"maxResetTimeoutMs"` // backoff doubling cap
}

// ConnectorConfig selects and tunes the implementation behind one external
// dependency name. Mode "local" uses the built-in rule-based implementation,
// "http" a remote JSON service.
type ConnectorConfig struct {
	Mode   string `json:"mode"` // local | http
	URL    string `json:"url,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
}

type StoreConfig struct {
	DBPath               string `json:"dbPath"`
	SweepIntervalSeconds int    `json:"sweepIntervalSeconds"` // TTL eviction interval
}

type GatewayConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	HMACSecret string `json:"hmacSecret,omitempty"` // verifies inbound webhook signatures when set
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.deskbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskbot"
	}
	return filepath.Join(home, ".deskbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.PlaybookDir = ExpandPath(cfg.General.PlaybookDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	o := cfg.Orchestrator
	if o.ConfidenceFloor < 0 || o.ConfidenceFloor > 1 {
		errs = append(errs, "orchestrator.confidenceFloor must be in [0,1]")
	}
	if o.ConfirmationThreshold < 0 || o.ConfirmationThreshold > 1 {
		errs = append(errs, "orchestrator.confirmationThreshold must be in [0,1]")
	}
	if o.ConfidenceFloor > o.ConfirmationThreshold {
		errs = append(errs, "orchestrator.confidenceFloor must not exceed confirmationThreshold")
	}
	if o.SentimentHandoffThreshold < -1 || o.SentimentHandoffThreshold > 1 {
		errs = append(errs, "orchestrator.sentimentHandoffThreshold must be in [-1,1]")
	}
	if o.MaxSlotRetries < 1 {
		errs = append(errs, "orchestrator.maxSlotRetries must be >= 1")
	}
	if o.MaxNoMatchBeforeHandoff < 1 {
		errs = append(errs, "orchestrator.maxNoMatchBeforeHandoff must be >= 1")
	}
	if o.SessionTTLSeconds < 1 {
		errs = append(errs, "orchestrator.sessionTTLSeconds must be >= 1")
	}
	if o.MaxQueuedTurns < 1 {
		errs = append(errs, "orchestrator.maxQueuedTurns must be >= 1")
	}
	if o.TranscriptRetention < 1 {
		errs = append(errs, "orchestrator.transcriptRetention must be >= 1")
	}
	if o.VersionRetryBudget < 0 {
		errs = append(errs, "orchestrator.versionRetryBudget must be >= 0")
	}

	for name, dep := range cfg.Dependencies {
		if dep.TimeoutMs < 1 {
			errs = append(errs, fmt.Sprintf("dependencies.%s.timeoutMs must be >= 1", name))
		}
		if dep.FailureThreshold < 1 {
			errs = append(errs, fmt.Sprintf("dependencies.%s.failureThreshold must be >= 1", name))
		}
		if dep.ResetTimeoutMs < 1 {
			errs = append(errs, fmt.Sprintf("dependencies.%s.resetTimeoutMs must be >= 1", name))
		}
		if dep.MaxResetTimeoutMs < dep.ResetTimeoutMs {
			errs = append(errs, fmt.Sprintf("dependencies.%s.maxResetTimeoutMs must be >= resetTimeoutMs", name))
		}
	}

	for name, conn := range cfg.Connectors {
		switch conn.Mode {
		case "local":
		case "http":
			if conn.URL == "" {
				errs = append(errs, fmt.Sprintf("connectors.%s.url is required in http mode", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("connectors.%s.mode must be local or http", name))
		}
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 0 and 65535")
	}
	if cfg.Store.SweepIntervalSeconds < 1 {
		errs = append(errs, "store.sweepIntervalSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
