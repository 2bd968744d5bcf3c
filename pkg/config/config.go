package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type LLMConfig struct {
	Provider string `json:"provider" label:"Provider" env:"AAPCHAT_LLM_PROVIDER"`
	Model    string `json:"model" label:"Model" env:"AAPCHAT_LLM_MODEL"`
	// DecisionModel serves the tool-detection and structuring passes.
	// Empty means reuse Model.
	DecisionModel string `json:"decision_model" label:"Decision Model" env:"AAPCHAT_LLM_DECISION_MODEL"`
	APIKey        string `json:"api_key" label:"API Key" env:"AAPCHAT_LLM_API_KEY"`
	BaseURL       string `json:"base_url" label:"Base URL" env:"AAPCHAT_LLM_BASE_URL"`
	MaxTokens     int    `json:"max_tokens" label:"Max Tokens" env:"AAPCHAT_LLM_MAX_TOKENS"`
}

type AAPConfig struct {
	// BaseURL is the controller API root, e.g.
	// https://aap.example.com/api/controller/v2/
	BaseURL        string `json:"base_url" label:"Base URL" env:"AAPCHAT_AAP_BASE_URL"`
	SkipTLSVerify  bool   `json:"skip_tls_verify" label:"Skip TLS Verify" env:"AAPCHAT_AAP_SKIP_TLS_VERIFY"`
	RequestTimeout int    `json:"request_timeout" label:"Request Timeout (s)" env:"AAPCHAT_AAP_REQUEST_TIMEOUT"`
	// RequestsPerSecond caps outgoing controller calls, shared by all
	// conversations. 0 disables the limiter.
	RequestsPerSecond float64 `json:"requests_per_second" label:"Requests Per Second" env:"AAPCHAT_AAP_REQUESTS_PER_SECOND"`
}

type AgentConfig struct {
	MaxIterations  int `json:"max_iterations" label:"Max Iterations" env:"AAPCHAT_AGENT_MAX_ITERATIONS"`
	RecursionLimit int `json:"recursion_limit" label:"Recursion Limit" env:"AAPCHAT_AGENT_RECURSION_LIMIT"`
}

type PollerConfig struct {
	IntervalSeconds int `json:"interval_seconds" label:"Poll Interval (s)" env:"AAPCHAT_POLLER_INTERVAL_SECONDS"`
	MaxAttempts     int `json:"max_attempts" label:"Max Attempts" env:"AAPCHAT_POLLER_MAX_ATTEMPTS"`
}

type SessionConfig struct {
	TTLHours int `json:"ttl_hours" label:"Session TTL (h)" env:"AAPCHAT_SESSION_TTL_HOURS"`
}

type WebSocketConfig struct {
	Enabled bool   `json:"enabled" label:"Enabled" env:"AAPCHAT_CHANNELS_WEBSOCKET_ENABLED"`
	Host    string `json:"host" label:"Host" env:"AAPCHAT_CHANNELS_WEBSOCKET_HOST"`
	Port    int    `json:"port" label:"Port" env:"AAPCHAT_CHANNELS_WEBSOCKET_PORT"`
	Path    string `json:"path" label:"Path" env:"AAPCHAT_CHANNELS_WEBSOCKET_PATH"`
	APIKey  string `json:"api_key" label:"API Key" env:"AAPCHAT_CHANNELS_WEBSOCKET_API_KEY"`
}

type ChannelsConfig struct {
	WebSocket WebSocketConfig `json:"websocket" label:"WebSocket"`
}

type MCPServerConfig struct {
	// Stdio transport
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// HTTP transport
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// Common
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

type LoggingConfig struct {
	Level string `json:"level" label:"Level" env:"AAPCHAT_LOG_LEVEL"`
	File  string `json:"file" label:"File" env:"AAPCHAT_LOG_FILE"`
}

// TemplatesConfig maps each built-in operation to its controller job
// template id. The defaults match a stock demo controller layout.
type TemplatesConfig struct {
	CreateOrganization int `json:"create_organization" env:"AAPCHAT_TEMPLATE_CREATE_ORGANIZATION"`
	CreateCredential   int `json:"create_credential" env:"AAPCHAT_TEMPLATE_CREATE_CREDENTIAL"`
	ListOrganizations  int `json:"list_organizations" env:"AAPCHAT_TEMPLATE_LIST_ORGANIZATIONS"`
	ListUsers          int `json:"list_users" env:"AAPCHAT_TEMPLATE_LIST_USERS"`
	CreateUser         int `json:"create_user" env:"AAPCHAT_TEMPLATE_CREATE_USER"`
	CreateInventory    int `json:"create_inventory" env:"AAPCHAT_TEMPLATE_CREATE_INVENTORY"`
	ListInventories    int `json:"list_inventories" env:"AAPCHAT_TEMPLATE_LIST_INVENTORIES"`
	ListCredentials    int `json:"list_credentials" env:"AAPCHAT_TEMPLATE_LIST_CREDENTIALS"`
	CreateProject      int `json:"create_project" env:"AAPCHAT_TEMPLATE_CREATE_PROJECT"`
	ListProjects       int `json:"list_projects" env:"AAPCHAT_TEMPLATE_LIST_PROJECTS"`
	CreateJobTemplate  int `json:"create_job_template" env:"AAPCHAT_TEMPLATE_CREATE_JOB_TEMPLATE"`
	ListJobTemplates   int `json:"list_job_templates" env:"AAPCHAT_TEMPLATE_LIST_JOB_TEMPLATES"`
}

type Config struct {
	LLM       LLMConfig                  `json:"llm" label:"LLM"`
	AAP       AAPConfig                  `json:"aap" label:"Automation Platform"`
	Agent     AgentConfig                `json:"agent" label:"Agent"`
	Poller    PollerConfig               `json:"poller" label:"Job Poller"`
	Session   SessionConfig              `json:"session" label:"Sessions"`
	Channels  ChannelsConfig             `json:"channels" label:"Channels"`
	Templates TemplatesConfig            `json:"templates" label:"Job Templates"`
	MCP       map[string]MCPServerConfig `json:"mcp,omitempty" label:"MCP Servers"`
	Logging   LoggingConfig              `json:"logging" label:"Logging"`
}

func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "openai",
			MaxTokens: 4096,
		},
		AAP: AAPConfig{
			RequestTimeout:    30,
			RequestsPerSecond: 10,
		},
		Agent: AgentConfig{
			MaxIterations:  8,
			RecursionLimit: 300,
		},
		Poller: PollerConfig{
			IntervalSeconds: 1,
			MaxAttempts:     60,
		},
		Session: SessionConfig{
			TTLHours: 24,
		},
		Channels: ChannelsConfig{
			WebSocket: WebSocketConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    18793,
				Path:    "/ws",
			},
		},
		Templates: TemplatesConfig{
			CreateOrganization: 35,
			CreateCredential:   36,
			ListOrganizations:  37,
			ListUsers:          38,
			CreateUser:         39,
			CreateInventory:    40,
			ListInventories:    41,
			ListCredentials:    42,
			CreateProject:      43,
			ListProjects:       46,
			CreateJobTemplate:  48,
			ListJobTemplates:   51,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that cannot be defaulted. A failure here is
// fatal at startup.
func (c *Config) Validate() error {
	var missing []string
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key")
	}
	if c.AAP.BaseURL == "" {
		missing = append(missing, "aap.base_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Poller.MaxAttempts <= 0 {
		return fmt.Errorf("poller.max_attempts must be positive, got %d", c.Poller.MaxAttempts)
	}
	return nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DecisionModelOrDefault returns the oracle model, falling back to the
// primary model when unset.
func (c *Config) DecisionModelOrDefault() string {
	if c.LLM.DecisionModel != "" {
		return c.LLM.DecisionModel
	}
	return c.LLM.Model
}

// SessionTTL returns the configured session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}

// PollInterval returns the job poller sleep between status checks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalSeconds) * time.Second
}
