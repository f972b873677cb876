package config

// Config is the root configuration structure for the fleet orchestrator.
// Serialised to ~/.fleetctl/config.yaml.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"     json:"database"`
	RedisURL    string            `mapstructure:"redis_url"    json:"redis_url"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" json:"orchestrator"`
	Watcher     WatcherConfig     `mapstructure:"watcher"      json:"watcher"`
	Tokens      TokensConfig      `mapstructure:"tokens"       json:"tokens"`
	LLM         LLMConfig         `mapstructure:"llm"          json:"llm"`
	Agents      map[string]AgentDef `mapstructure:"agents"     json:"agents"`
	WebhookTriggers map[string]*RouteDef `mapstructure:"webhook_triggers" json:"webhook_triggers"`
	Scheduling  SchedulingConfig  `mapstructure:"scheduling"   json:"scheduling"`
	Product     ProductConfig     `mapstructure:"product"      json:"product"`
	Git         GitConfig         `mapstructure:"git"          json:"git"`
	Gateway     GatewayConfig     `mapstructure:"gateway"      json:"gateway"`
	Notify      NotifyConfig      `mapstructure:"notify"       json:"notify"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// OrchestratorConfig controls the task queue and claim protocol.
type OrchestratorConfig struct {
	RedisURL           string `mapstructure:"redis_url"            json:"redis_url"`
	DatabasePath        string `mapstructure:"database_path"         json:"database_path"`
	MaxConcurrentAgents int    `mapstructure:"max_concurrent_agents" json:"max_concurrent_agents"`
	// TaskAbandonTimeout is how long a claimed task may sit without completion
	// before abandonment recovery resets it to pending. Default 2h.
	TaskAbandonTimeout string `mapstructure:"task_abandon_timeout" json:"task_abandon_timeout"`
}

// WatcherConfig controls the agent runner's worker supervision loop.
type WatcherConfig struct {
	MaxSessionDuration      int    `mapstructure:"max_session_duration"       json:"max_session_duration"`
	RestartDelay            int    `mapstructure:"restart_delay"              json:"restart_delay"`
	SessionDelayMin         int    `mapstructure:"session_delay_min"          json:"session_delay_min"`
	SessionDelayMax         int    `mapstructure:"session_delay_max"          json:"session_delay_max"`
	HealthCheckInterval     int    `mapstructure:"health_check_interval"      json:"health_check_interval"`
	OutputStoreDir          string `mapstructure:"output_store_dir"           json:"output_store_dir"`
	OutputStoreS3Bucket     string `mapstructure:"output_store_s3_bucket"     json:"output_store_s3_bucket"`
	OutputStoreS3Prefix     string `mapstructure:"output_store_s3_prefix"     json:"output_store_s3_prefix"`
	OutputExcerptChars      int    `mapstructure:"output_excerpt_chars"       json:"output_excerpt_chars"`
	OutputSummaryChars      int    `mapstructure:"output_summary_chars"       json:"output_summary_chars"`
	OutputStreamBufferChars int    `mapstructure:"output_stream_buffer_chars" json:"output_stream_buffer_chars"`
}

// TokensConfig controls the per-agent daily token budget.
type TokensConfig struct {
	DailyBudget      int `mapstructure:"daily_budget"      json:"daily_budget"`
	WarningThreshold float64 `mapstructure:"warning_threshold" json:"warning_threshold"`
}

// LLMConfig controls which provider CLI each worker is spawned with.
type LLMConfig struct {
	DefaultProvider        string                    `mapstructure:"default_provider"          json:"default_provider"`
	FallbackProvider        string                    `mapstructure:"fallback_provider"          json:"fallback_provider"`
	AutoFallbackOnRateLimit bool                      `mapstructure:"auto_fallback_on_rate_limit" json:"auto_fallback_on_rate_limit"`
	ManualOverrideEnv       string                    `mapstructure:"manual_override_env"        json:"manual_override_env"`
	Providers               map[string]ProviderConfig `mapstructure:"providers"                  json:"providers"`
}

// ProviderConfig describes how to invoke one worker-process provider.
type ProviderConfig struct {
	Command   string            `mapstructure:"command"   json:"command"`
	Args      []string          `mapstructure:"args"      json:"args"`
	PromptFlag string           `mapstructure:"prompt_flag" json:"prompt_flag"`
	ModelMap  map[string]string `mapstructure:"model_map" json:"model_map"`
}

// AgentDef describes one configured agent-type instance.
type AgentDef struct {
	Name            string   `mapstructure:"name"             json:"name"`
	PromptFile      string   `mapstructure:"prompt_file"      json:"prompt_file"`
	TaskTypes       []string `mapstructure:"task_types"       json:"task_types"`
	SessionMaxTokens int     `mapstructure:"session_max_tokens" json:"session_max_tokens"`
	Provider        string   `mapstructure:"provider"         json:"provider"`
	Model           string   `mapstructure:"model"            json:"model"`
}

// RouteDef describes a webhook routing target. Either Agent+TaskType, or
// Parallel, is populated.
type RouteDef struct {
	Agent     string     `mapstructure:"agent"     json:"agent,omitempty"`
	TaskType  string     `mapstructure:"task_type"  json:"task_type,omitempty"`
	Condition string     `mapstructure:"condition" json:"condition,omitempty"`
	Parallel  []RouteDef `mapstructure:"parallel"  json:"parallel,omitempty"`
}

// SchedulingConfig controls the cron-based scheduler.
type SchedulingConfig struct {
	Enabled bool             `mapstructure:"enabled" json:"enabled"`
	Jobs    map[string]JobDef `mapstructure:"jobs"    json:"jobs"`
}

// JobDef describes one scheduler job-catalog entry.
type JobDef struct {
	Agent       string `mapstructure:"agent"       json:"agent"`
	TaskType    string `mapstructure:"task_type"   json:"task_type"`
	Cron        string `mapstructure:"cron"        json:"cron"`
	Enabled     bool   `mapstructure:"enabled"     json:"enabled"`
	Description string `mapstructure:"description" json:"description"`
}

// ProductConfig holds product-level automation settings.
type ProductConfig struct {
	AutoFeatureCreation AutoFeatureCreationConfig `mapstructure:"auto_feature_creation" json:"auto_feature_creation"`
}

// AutoFeatureCreationConfig guards the scheduler's auto_feature_creation job.
type AutoFeatureCreationConfig struct {
	Enabled             bool   `mapstructure:"enabled"                  json:"enabled"`
	GuidancePath        string `mapstructure:"guidance_path"            json:"guidance_path"`
	MaxNewIssuesPerRun  int    `mapstructure:"max_new_issues_per_run"   json:"max_new_issues_per_run"`
	MaxOpenIssues       int    `mapstructure:"max_open_issues"          json:"max_open_issues"`
	Label               string `mapstructure:"label"                    json:"label"`
}

// GitConfig holds credentials for each supported forge.
type GitConfig struct {
	GitHub []GitHubConfig `mapstructure:"github" json:"github"`
	GitLab []GitLabConfig `mapstructure:"gitlab" json:"gitlab"`
}

// GitHubConfig holds credentials for a single GitHub instance.
type GitHubConfig struct {
	Token string `mapstructure:"token" json:"token"` // #nosec G101 -- config field, not a hardcoded credential
	Host  string `mapstructure:"host"  json:"host"`
}

// GitLabConfig holds credentials for a single GitLab instance.
type GitLabConfig struct {
	Token string `mapstructure:"token" json:"token"` // #nosec G101 -- config field, not a hardcoded credential
	Host  string `mapstructure:"host"  json:"host"`
}

// GatewayConfig controls the persistent gateway daemon's webhook listener.
type GatewayConfig struct {
	// Port is the localhost HTTP port the gateway listens on (default: 6080).
	Port int `mapstructure:"port" json:"port"`
	// WebhookSecret is the env-wide fallback signature secret used when a
	// repo has none configured.
	WebhookSecret string `mapstructure:"webhook_secret" json:"webhook_secret"` // #nosec G101 -- config field, not a hardcoded credential
}

// NotifyConfig controls outbound push notifications. Ambient concern,
// carried regardless of the orchestrator's own scope.
type NotifyConfig struct {
	Slack    SlackNotifyConfig    `mapstructure:"slack"        json:"slack"`
	Telegram TelegramNotifyConfig `mapstructure:"telegram"     json:"telegram"`
	Email    EmailNotifyConfig    `mapstructure:"email"        json:"email"`
	Webhook  WebhookNotifyConfig  `mapstructure:"webhook"      json:"webhook"`
	MinSeverity string `mapstructure:"min_severity" json:"min_severity"`
	Events      []string `mapstructure:"events" json:"events"`
}

// SlackNotifyConfig holds the Slack incoming webhook URL.
type SlackNotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

// TelegramNotifyConfig holds Telegram Bot API credentials.
type TelegramNotifyConfig struct {
	BotToken string `mapstructure:"bot_token" json:"bot_token"`
	ChatID   string `mapstructure:"chat_id"   json:"chat_id"`
}

// EmailNotifyConfig holds SMTP settings for email notifications.
type EmailNotifyConfig struct {
	SMTPHost string `mapstructure:"smtp_host" json:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port" json:"smtp_port"`
	Username string `mapstructure:"username"  json:"username"`
	Password string `mapstructure:"password"  json:"password"` // #nosec G101 -- config field, not a hardcoded credential
	From     string `mapstructure:"from"      json:"from"`
	To       string `mapstructure:"to"        json:"to"`
	UseTLS   bool   `mapstructure:"use_tls"   json:"use_tls"`
}

// WebhookNotifyConfig holds generic HTTP webhook settings.
type WebhookNotifyConfig struct {
	URL    string `mapstructure:"url"    json:"url"`
	Secret string `mapstructure:"secret" json:"secret"` // HMAC-SHA256 signing key // #nosec G101 -- config field, not a hardcoded credential
}
