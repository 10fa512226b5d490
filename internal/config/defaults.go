package config

// Dependency names the orchestrator wraps with circuit breakers.
const (
	DepClassifier = "classifier"
	DepSentiment  = "sentiment"
	DepKnowledge  = "knowledge"
	DepTicket     = "ticket"
	DepHumanQueue = "human_queue"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:      "info",
			PlaybookDir:   "~/.deskbot/playbook",
			BusBufferSize: 100,
		},
		Orchestrator: OrchestratorConfig{
			ConfidenceFloor:           0.3,
			ConfirmationThreshold:     0.7,
			MaxSlotRetries:            2,
			MaxNoMatchBeforeHandoff:   3,
			SentimentHandoffThreshold: -0.5,
			SessionTTLSeconds:         1800,
			MaxQueuedTurns:            8,
			TranscriptRetention:       50,
			VersionRetryBudget:        3,
			HandoffMaxAttempts:        4,
			KnowledgeTopK:             3,
		},
		Dependencies: map[string]DependencyConfig{
			DepClassifier: defaultDependency(2000),
			DepSentiment:  defaultDependency(1000),
			DepKnowledge:  defaultDependency(3000),
			DepTicket:     defaultDependency(5000),
			DepHumanQueue: defaultDependency(5000),
		},
		Connectors: map[string]ConnectorConfig{
			DepClassifier: {Mode: "local"},
			DepSentiment:  {Mode: "local"},
			DepKnowledge:  {Mode: "local"},
			DepTicket:     {Mode: "local"},
			DepHumanQueue: {Mode: "local"},
		},
		Store: StoreConfig{
			DBPath:               "~/.deskbot/sessions.db",
			SweepIntervalSeconds: 60,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

func defaultDependency(timeoutMs int) DependencyConfig {
	return DependencyConfig{
		TimeoutMs:         timeoutMs,
		FailureThreshold:  3,
		WindowMs:          30000,
		ResetTimeoutMs:    10000,
		MaxResetTimeoutMs: 120000,
	}
}
