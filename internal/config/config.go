package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cexll/jira-relay/internal/jira"
)

// Config holds all configuration for the jira-relay service
type Config struct {
	// Server settings
	Port int

	// Jira settings
	JiraBaseURL       string
	JiraAuth          string // "basic" or "connect"
	JiraEmail         string
	JiraAPIToken      string
	JiraConnectKey    string
	JiraConnectSecret string
	JiraTimeout       time.Duration
	JiraRateLimit     float64 // requests per second, 0 disables pacing

	// Relay settings
	BatchSize    int
	CallLimit    int
	BudgetMargin int

	// Storage settings
	ActivityDBPath string

	// GitHub webhook ingestion (optional)
	GitHubWebhookSecret string

	// Dispatcher settings
	DispatcherWorkers           int
	DispatcherQueueSize         int
	DispatcherRetryInitial      time.Duration
	DispatcherRetryMax          time.Duration
	DispatcherBackoffMultiplier float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                        getEnvInt("PORT", 8000),
		JiraBaseURL:                 strings.TrimSpace(os.Getenv("JIRA_BASE_URL")),
		JiraAuth:                    strings.ToLower(getEnv("JIRA_AUTH", "basic")),
		JiraEmail:                   os.Getenv("JIRA_EMAIL"),
		JiraAPIToken:                os.Getenv("JIRA_API_TOKEN"),
		JiraConnectKey:              os.Getenv("JIRA_CONNECT_KEY"),
		JiraConnectSecret:           os.Getenv("JIRA_CONNECT_SECRET"),
		JiraTimeout:                 time.Duration(getEnvInt("JIRA_TIMEOUT_SECONDS", 20)) * time.Second,
		JiraRateLimit:               getEnvFloat("JIRA_RATE_LIMIT", 0),
		BatchSize:                   getEnvInt("RELAY_BATCH_SIZE", 50),
		CallLimit:                   getEnvInt("RELAY_CALL_LIMIT", 100),
		BudgetMargin:                getEnvInt("RELAY_BUDGET_MARGIN", 1),
		ActivityDBPath:              getEnv("ACTIVITY_DB_PATH", "data/activities.db"),
		GitHubWebhookSecret:         os.Getenv("GITHUB_WEBHOOK_SECRET"),
		DispatcherWorkers:           getEnvInt("DISPATCHER_WORKERS", 4),
		DispatcherQueueSize:         getEnvInt("DISPATCHER_QUEUE_SIZE", 16),
		DispatcherRetryInitial:      time.Duration(getEnvInt("DISPATCHER_RETRY_SECONDS", 1)) * time.Second,
		DispatcherRetryMax:          time.Duration(getEnvInt("DISPATCHER_RETRY_MAX_SECONDS", 60)) * time.Second,
		DispatcherBackoffMultiplier: getEnvFloat("DISPATCHER_BACKOFF_MULTIPLIER", 2.0),
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that all required configuration is present
func (c *Config) validate() error {
	if err := c.validateJiraConfig(); err != nil {
		return err
	}

	if err := c.validateRelayConfig(); err != nil {
		return err
	}

	c.applyDispatcherDefaults()
	return c.validateDispatcherConfig()
}

func (c *Config) validateJiraConfig() error {
	if c.JiraBaseURL == "" {
		return fmt.Errorf("JIRA_BASE_URL is required")
	}
	u, err := url.Parse(c.JiraBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("JIRA_BASE_URL must be an absolute URL: %q", c.JiraBaseURL)
	}

	switch c.JiraAuth {
	case "basic":
		if c.JiraEmail == "" {
			return fmt.Errorf("JIRA_EMAIL is required for basic auth")
		}
		if c.JiraAPIToken == "" {
			return fmt.Errorf("JIRA_API_TOKEN is required for basic auth")
		}
	case "connect":
		if c.JiraConnectKey == "" {
			return fmt.Errorf("JIRA_CONNECT_KEY is required for connect auth")
		}
		if c.JiraConnectSecret == "" {
			return fmt.Errorf("JIRA_CONNECT_SECRET is required for connect auth")
		}
	default:
		return fmt.Errorf("invalid JIRA_AUTH: %s (must be 'basic' or 'connect')", c.JiraAuth)
	}

	if c.JiraRateLimit < 0 {
		return fmt.Errorf("JIRA_RATE_LIMIT must be >= 0")
	}
	return nil
}

func (c *Config) validateRelayConfig() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be greater than 0")
	}
	if c.BudgetMargin < 0 {
		return fmt.Errorf("RELAY_BUDGET_MARGIN must be >= 0")
	}
	if c.CallLimit > 0 && c.CallLimit <= c.BudgetMargin {
		return fmt.Errorf("RELAY_CALL_LIMIT must exceed RELAY_BUDGET_MARGIN")
	}
	if c.CallLimit <= 0 {
		log.Printf("Warning: RELAY_CALL_LIMIT <= 0, outbound calls per unit are unlimited")
	}
	return nil
}

func (c *Config) applyDispatcherDefaults() {
	if c.DispatcherWorkers <= 0 {
		c.DispatcherWorkers = 4
	}
	if c.DispatcherQueueSize <= 0 {
		c.DispatcherQueueSize = 16
	}
	if c.DispatcherRetryInitial <= 0 {
		c.DispatcherRetryInitial = time.Second
	}
	if c.DispatcherRetryMax <= 0 {
		c.DispatcherRetryMax = time.Minute
	}
	if c.DispatcherBackoffMultiplier < 1 {
		c.DispatcherBackoffMultiplier = 2
	}
}

func (c *Config) validateDispatcherConfig() error {
	if c.DispatcherRetryMax < c.DispatcherRetryInitial {
		return fmt.Errorf("DISPATCHER_RETRY_MAX_SECONDS must be >= DISPATCHER_RETRY_SECONDS")
	}
	return nil
}

// NewJiraClient builds the tracker transport described by the configuration.
func (c *Config) NewJiraClient() (*jira.Client, error) {
	var auth jira.Auth
	switch c.JiraAuth {
	case "basic":
		if c.JiraEmail == "" || c.JiraAPIToken == "" {
			return nil, fmt.Errorf("JIRA_EMAIL and JIRA_API_TOKEN are required for basic auth")
		}
		auth = jira.BasicAuth{Email: c.JiraEmail, Token: c.JiraAPIToken}
	case "connect":
		if c.JiraConnectKey == "" || c.JiraConnectSecret == "" {
			return nil, fmt.Errorf("JIRA_CONNECT_KEY and JIRA_CONNECT_SECRET are required for connect auth")
		}
		basePath := ""
		if u, err := url.Parse(c.JiraBaseURL); err == nil {
			basePath = u.Path
		}
		auth = jira.ConnectAuth{Key: c.JiraConnectKey, SharedSecret: c.JiraConnectSecret, BasePath: basePath}
	default:
		return nil, fmt.Errorf("unsupported jira auth: %s", c.JiraAuth)
	}

	return jira.NewClient(c.JiraBaseURL, auth,
		jira.WithTimeout(c.JiraTimeout),
		jira.WithRateLimit(c.JiraRateLimit),
	)
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
