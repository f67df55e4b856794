package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "MOTHER_CONFIG"

// Config 描述了 Mother Agent 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Agent     AgentConfig     `json:"agent"`
	LLM       LLMConfig       `json:"llm"`
	Tools     ToolsConfig     `json:"tools"`
	Memory    MemoryConfig    `json:"memory"`
	Storage   StorageConfig   `json:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Alerting  AlertingConfig  `json:"alerting"`
	Logging   LoggingConfig   `json:"logging"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制可选的指标监听地址。为空时不启动监听。
type ServerConfig struct {
	MetricsAddress string `json:"metrics_address"`
}

// AgentConfig 控制会话循环的行为。
type AgentConfig struct {
	MaxIterations     int    `json:"max_iterations"`
	MemoryItems       int    `json:"memory_items"`
	PendingPolicy     string `json:"pending_policy"`
	SessionTTLSeconds int    `json:"session_ttl_seconds"`
	SystemPrompt      string `json:"system_prompt"`
}

// SessionTTL 返回会话闲置回收时间。
func (c AgentConfig) SessionTTL() time.Duration {
	if c.SessionTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider  string             `json:"provider"`
	OpenAI    ProviderConfig     `json:"openai"`
	Zhipu     ProviderConfig     `json:"zhipu"`
	Anthropic ProviderConfig     `json:"anthropic"`
	Gemini    ProviderConfig     `json:"gemini"`
	Ollama    OllamaConfig       `json:"ollama"`
	Python    PythonBridgeConfig `json:"python_bridge"`
	Mock      MockConfig         `json:"mock"`
}

// ProviderConfig 是基于 HTTP 的模型服务的通用配置。
type ProviderConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_tokens"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回请求超时时间。
func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置的密钥，其次读取 APIKeyEnv 指向的环境变量。
func (c ProviderConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
	}
	return ""
}

// OllamaConfig 描述本地 Ollama 服务。Host 为空时使用 OLLAMA_HOST。
type OllamaConfig struct {
	Host  string `json:"host"`
	Model string `json:"model"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string            `json:"python_executable"`
	ScriptPath       string            `json:"script_path"`
	WorkingDir       string            `json:"working_dir"`
	Env              map[string]string `json:"env"`
}

// MockConfig 定义离线模式下的正则到工具调用映射。
type MockConfig struct {
	Rules []MockRule `json:"rules"`
}

// MockRule 将匹配 Pattern 的输入映射为一次工具调用。
type MockRule struct {
	Pattern string         `json:"pattern"`
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args"`
	Reply   string         `json:"reply"`
}

// ToolsConfig 指向插件清单。
type ToolsConfig struct {
	Manifest string `json:"manifest"`
}

// MemoryConfig 选择记忆后端。
type MemoryConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	KnowledgeSource string `json:"knowledge_source"`
	MaxResults      int    `json:"max_results"`
}

// StorageConfig 统一描述任务存储的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
}

// TaskStoreConfig 支持 memory、mysql 与 sqlite3 三种驱动。
// Retries 是首次执行之外允许的重试次数。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	Retries                int    `json:"retries"`
}

// TaskQueueConfig 选择异步任务队列。
type TaskQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	// DegradeFailures 为 true 时，不可重试的失败记为带分类错误的降级结果。
	DegradeFailures bool `json:"degrade_failures"`
}

// RedisConfig 描述 Redis 列表队列。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// ConnMaxLifetime 返回连接最长存活时间。
func (c TaskStoreConfig) ConnMaxLifetime() time.Duration {
	if c.ConnMaxLifetimeSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// AlertingConfig 控制任务失败告警。审计日志渠道始终启用，WebhookURL 非空时额外推送。
type AlertingConfig struct {
	WebhookURL     string            `json:"webhook_url"`
	WebhookHeaders map[string]string `json:"webhook_headers"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault 读取配置文件，文件不存在时返回以 baseDir 为根的默认配置。
func LoadOrDefault(path, baseDir string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("检查配置文件失败: %w", err)
		}
	}
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg, nil
}

// Validate 检查取值范围。
func (c *Config) Validate() error {
	switch c.Agent.PendingPolicy {
	case "reject", "overwrite":
	default:
		return fmt.Errorf("未知的 pending_policy: %s", c.Agent.PendingPolicy)
	}
	if c.Agent.MaxIterations <= 0 {
		return errors.New("max_iterations 必须大于 0")
	}
	switch c.Storage.TaskStore.Driver {
	case "memory", "mysql", "sqlite3":
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", c.Storage.TaskStore.Driver)
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的任务队列驱动: %s", c.TaskQueue.Driver)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))

	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.MemoryItems == 0 {
		c.Agent.MemoryItems = 5
	}
	if c.Agent.PendingPolicy == "" {
		c.Agent.PendingPolicy = "reject"
	}
	if c.Agent.SessionTTLSeconds == 0 {
		c.Agent.SessionTTLSeconds = 3600
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if env := strings.TrimSpace(os.Getenv("MOTHER_LLM_PROVIDER")); env != "" {
		c.LLM.Provider = env
	}
	defaultKeyEnv(&c.LLM.OpenAI, "OPENAI_API_KEY")
	defaultKeyEnv(&c.LLM.Zhipu, "ZHIPU_API_KEY")
	defaultKeyEnv(&c.LLM.Anthropic, "ANTHROPIC_API_KEY")
	defaultKeyEnv(&c.LLM.Gemini, "GEMINI_API_KEY")
	if c.LLM.Zhipu.BaseURL == "" {
		c.LLM.Zhipu.BaseURL = "https://open.bigmodel.cn/api/paas/v4"
	}
	if c.LLM.Zhipu.Model == "" {
		c.LLM.Zhipu.Model = "glm-4"
	}
	if c.LLM.Ollama.Model == "" {
		c.LLM.Ollama.Model = "llama3.1"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir, baseDir)

	if c.Tools.Manifest != "" {
		c.Tools.Manifest = resolve(baseDir, c.Tools.Manifest, "")
	}

	if c.Memory.Driver == "" {
		c.Memory.Driver = "memory"
	}
	if c.Memory.MaxResults == 0 {
		c.Memory.MaxResults = c.Agent.MemoryItems
	}
	if c.Memory.KnowledgeSource != "" {
		c.Memory.KnowledgeSource = resolve(baseDir, c.Memory.KnowledgeSource, "")
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries == 0 {
		c.Storage.TaskStore.Retries = 2
	}
	if c.Storage.TaskStore.Driver == "sqlite3" && c.Storage.TaskStore.DSN == "" {
		c.Storage.TaskStore.DSN = filepath.Join(c.Runtime.DataDir, "jobs.db")
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 2
	}
	if c.TaskQueue.Redis.Queue == "" {
		c.TaskQueue.Redis.Queue = "mother:jobs"
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "mother.jobs"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func defaultKeyEnv(p *ProviderConfig, env string) {
	if p.APIKeyEnv == "" {
		p.APIKeyEnv = env
	}
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
