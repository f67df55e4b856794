package main

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"Mother-Agent/internal/agent"
	"Mother-Agent/internal/classifier"
	"Mother-Agent/internal/config"
	"Mother-Agent/internal/llm"
	"Mother-Agent/internal/llm/anthropic"
	"Mother-Agent/internal/llm/gemini"
	"Mother-Agent/internal/llm/mock"
	"Mother-Agent/internal/llm/ollama"
	"Mother-Agent/internal/llm/openai"
	"Mother-Agent/internal/llm/pythonbridge"
	"Mother-Agent/internal/memory"
	"Mother-Agent/internal/observability/alerting"
	"Mother-Agent/internal/task"
	"Mother-Agent/pkg/logger"
	"Mother-Agent/pkg/plugin"
	"Mother-Agent/pkg/plugin/builtin"
)

// app 持有一次进程运行所需的全部组件。
type app struct {
	cfg      *config.Config
	tools    *plugin.Manager
	memory   *memory.Manager
	sessions *agent.Sessions
	closers  []func() error
}

// bootstrap 按配置装配工具、记忆、模型与会话表。
func bootstrap(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	tools, err := newToolManager(cfg)
	if err != nil {
		return nil, err
	}
	if err := tools.StartAll(ctx); err != nil {
		return nil, fmt.Errorf("启动插件失败: %w", err)
	}
	a.tools = tools
	a.closers = append(a.closers, func() error { return tools.StopAll(context.Background()) })

	mem, err := memory.Open(ctx, cfg.Memory, cfg.Runtime.DataDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.memory = mem
	a.closers = append(a.closers, mem.Close)

	gateway, err := newGateway(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []agent.Option{
		agent.WithMemory(mem),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithMemoryItems(cfg.Agent.MemoryItems),
		agent.WithPendingPolicy(agent.PendingPolicy(cfg.Agent.PendingPolicy)),
	}
	if cfg.Agent.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(cfg.Agent.SystemPrompt))
	}
	if timeout := providerTimeout(cfg.LLM); timeout > 0 {
		opts = append(opts, agent.WithLLMTimeout(timeout))
	}
	a.sessions = agent.NewSessions(agent.New(gateway, tools, opts...), cfg.Agent.SessionTTL())

	logger.L().Info("mother agent ready",
		slog.String("provider", cfg.LLM.Provider),
		slog.Int("tools", len(tools.ListTools())),
		slog.String("memory", cfg.Memory.Driver),
	)
	return a, nil
}

// Close 逆序释放资源。
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return stdErrors.Join(errs...)
}

func newToolManager(cfg *config.Config) (*plugin.Manager, error) {
	manifest := plugin.ManagerConfig{Plugins: map[string]plugin.PluginConfig{}}
	if cfg.Tools.Manifest != "" {
		loaded, err := plugin.LoadManagerConfig(cfg.Tools.Manifest)
		if err != nil {
			return nil, err
		}
		manifest = loaded
	}
	execOnly := plugin.IsolationPolicy{AllowedCapabilities: []plugin.Capability{plugin.CapabilityExecution}}
	return plugin.NewManager(manifest,
		plugin.WithResource(plugin.ResourceDataDir, cfg.Runtime.DataDir),
		plugin.WithBuiltin(builtin.NewScratchpad(), nil, plugin.IsolationPolicy{}),
		plugin.WithBuiltin(builtin.NewShell(), nil, execOnly),
	)
}

func newGateway(cfg config.LLMConfig) (llm.Gateway, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:    cfg.OpenAI.ResolveAPIKey(),
			BaseURL:   cfg.OpenAI.BaseURL,
			Model:     cfg.OpenAI.Model,
			MaxTokens: cfg.OpenAI.MaxTokens,
			Timeout:   cfg.OpenAI.Timeout(),
		})
	case "zhipu":
		return openai.NewClient(openai.Config{
			Name:      "zhipu",
			APIKey:    cfg.Zhipu.ResolveAPIKey(),
			BaseURL:   cfg.Zhipu.BaseURL,
			Model:     cfg.Zhipu.Model,
			MaxTokens: cfg.Zhipu.MaxTokens,
			Timeout:   cfg.Zhipu.Timeout(),
		})
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.Anthropic.ResolveAPIKey(),
			BaseURL:   cfg.Anthropic.BaseURL,
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
			Timeout:   cfg.Anthropic.Timeout(),
		})
	case "gemini":
		return gemini.NewClient(gemini.Config{
			APIKey:    cfg.Gemini.ResolveAPIKey(),
			BaseURL:   cfg.Gemini.BaseURL,
			Model:     cfg.Gemini.Model,
			MaxTokens: cfg.Gemini.MaxTokens,
			Timeout:   cfg.Gemini.Timeout(),
		})
	case "ollama":
		return ollama.NewClient(ollama.Config{Host: cfg.Ollama.Host, Model: cfg.Ollama.Model})
	case "python_bridge", "pythonbridge":
		return pythonbridge.NewClient(pythonbridge.Config{
			Python:     cfg.Python.PythonExecutable,
			Script:     cfg.Python.ScriptPath,
			WorkingDir: cfg.Python.WorkingDir,
			Env:        cfg.Python.Env,
		})
	case "mock":
		rules := make([]mock.Rule, 0, len(cfg.Mock.Rules))
		for _, r := range cfg.Mock.Rules {
			rule, err := mock.NewRule(r.Pattern, r.Tool, r.Args, r.Reply)
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		}
		return mock.New(rules...), nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}

// providerTimeout 返回当前 provider 配置的单次调用超时，用于会话循环的兜底。
func providerTimeout(cfg config.LLMConfig) time.Duration {
	switch cfg.Provider {
	case "openai":
		return cfg.OpenAI.Timeout()
	case "zhipu":
		return cfg.Zhipu.Timeout()
	case "anthropic":
		return cfg.Anthropic.Timeout()
	case "gemini":
		return cfg.Gemini.Timeout()
	}
	return 0
}

// jobPipeline 是异步任务的存储、队列与服务。
type jobPipeline struct {
	store   task.Store
	queue   task.Queue
	service *task.Service
}

func newJobPipeline(ctx context.Context, cfg *config.Config) (*jobPipeline, error) {
	var store task.Store
	switch cfg.Storage.TaskStore.Driver {
	case "memory":
		store = task.NewMemoryStore()
	case "mysql", "sqlite3":
		sqlStore, err := task.NewSQLStore(ctx, task.SQLOptions{
			Driver:          cfg.Storage.TaskStore.Driver,
			DSN:             cfg.Storage.TaskStore.DSN,
			MaxOpenConns:    cfg.Storage.TaskStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.TaskStore.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.TaskStore.ConnMaxLifetime(),
		})
		if err != nil {
			return nil, err
		}
		store = sqlStore
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}

	var queue task.Queue
	switch cfg.TaskQueue.Driver {
	case "memory":
		queue = task.NewMemoryQueue(1024)
	case "redis":
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		queue = q
	default:
		_ = store.Close()
		return nil, fmt.Errorf("未知的任务队列驱动: %s", cfg.TaskQueue.Driver)
	}

	return &jobPipeline{
		store:   store,
		queue:   queue,
		service: task.NewService(store, queue, cfg.Storage.TaskStore.Retries+1),
	}, nil
}

func (p *jobPipeline) processor(exec task.Executor, cfg *config.Config) *task.Processor {
	opts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithAlertDispatcher(newAlerter(cfg.Alerting)),
	}
	if cfg.TaskQueue.DegradeFailures {
		opts = append(opts, task.WithRecoveryHandler(classifiedRecovery(classifier.New())))
	}
	return task.NewProcessor(exec, p.store, p.queue, p.queue, opts...)
}

// classifiedRecovery 把失败原因分类后作为降级结果保存，供 job get 展示建议。
func classifiedRecovery(c *classifier.Classifier) task.RecoveryFunc {
	return func(_ context.Context, _ *task.Job, cause error) (*task.JobResult, error) {
		ae := c.FromError(cause, "", "")
		return &task.JobResult{
			Text:   ae.ForUser(),
			Errors: []classifier.AgentError{ae},
		}, nil
	}
}

func newAlerter(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL, Headers: cfg.WebhookHeaders})
	}
	return alerting.NewFanout(notifiers...)
}
