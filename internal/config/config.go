// Package config loads fixloop settings from a YAML file with FIXLOOP_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "FIXLOOP_"

type Config struct {
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"`
	LLM         LLMConfig         `yaml:"llm"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Repair      RepairConfig      `yaml:"repair"`
	Checkpoints CheckpointsConfig `yaml:"checkpoints"`
	Tools       ToolsConfig       `yaml:"tools"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	RAG         RAGConfig         `yaml:"rag"`
	Worker      WorkerConfig      `yaml:"worker"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxRetries     int     `yaml:"max_retries"`
	// Script feeds the scripted provider.
	Script []string `yaml:"script"`
}

// APIKey reads the key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

type SandboxConfig struct {
	Kind           string        `yaml:"kind"`
	Timeout        time.Duration `yaml:"timeout"`
	Interpreter    string        `yaml:"interpreter"`
	Args           []string      `yaml:"args"`
	FileName       string        `yaml:"file_name"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	// MaxMemoryBytes caps the address space a program may grow by.
	MaxMemoryBytes uint64        `yaml:"max_memory_bytes"`
	// InProcess runs Lua inside fixloop itself, without the memory cap.
	InProcess      bool          `yaml:"in_process"`
}

// Language names the dialect the configured sandbox runs, for prompts.
func (c SandboxConfig) Language() string {
	if c.Kind == SandboxLua {
		return "lua"
	}
	name := c.Interpreter
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimRight(name, "0123456789.")
}

type RepairConfig struct {
	MaxSteps int `yaml:"max_steps"`
	// Timeout bounds a whole run.
	Timeout time.Duration `yaml:"timeout"`
}

type CheckpointsConfig struct {
	Backend     string        `yaml:"backend"`
	SQLitePath  string        `yaml:"sqlite_path"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
	RedisTTL    time.Duration `yaml:"redis_ttl"`
}

type ToolsConfig struct {
	Addr     string        `yaml:"addr"`
	BaseURL  string        `yaml:"base_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

type WorkerConfig struct {
	Queue       string `yaml:"queue"`
	RedisAddr   string `yaml:"redis_addr"`
	Concurrency int    `yaml:"concurrency"`
}

const (
	SandboxLua     = "lua"
	SandboxProcess = "process"

	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Default uses Groq with the Lua sandbox and in-memory checkpoints.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		LLM: LLMConfig{
			Provider:   "groq",
			Model:      "llama-3.3-70b-versatile",
			APIKeyEnv:  "GROQ_API_KEY",
			MaxRetries: 2,
		},
		Sandbox: SandboxConfig{
			Kind:           SandboxLua,
			Timeout:        5 * time.Second,
			Interpreter:    "python3",
			MaxOutputBytes: 64 << 10,
			MaxMemoryBytes: 512 << 20,
		},
		Repair: RepairConfig{
			MaxSteps: 20,
			Timeout:  5 * time.Minute,
		},
		Checkpoints: CheckpointsConfig{
			Backend:     BackendMemory,
			SQLitePath:  "fixloop.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "fixloop:checkpoint:",
		},
		Tools: ToolsConfig{
			Addr:     ":8000",
			BaseURL:  "http://localhost:8000/mcp",
			CacheTTL: time.Minute,
		},
		RAG: RAGConfig{
			ChunkSize:    500,
			ChunkOverlap: 50,
			TopK:         4,
		},
		Worker: WorkerConfig{
			Queue:       "fixloop:requests",
			RedisAddr:   "localhost:6379",
			Concurrency: 4,
		},
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path skips the file.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	getEnv := func(key, defaultValue string) string {
		if value, exists := lookup(envPrefix + key); exists {
			return value
		}
		return defaultValue
	}

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKeyEnv = getEnv("LLM_API_KEY_ENV", c.LLM.APIKeyEnv)
	c.LLM.EmbeddingModel = getEnv("LLM_EMBEDDING_MODEL", c.LLM.EmbeddingModel)
	c.Sandbox.Kind = getEnv("SANDBOX_KIND", c.Sandbox.Kind)
	c.Sandbox.Interpreter = getEnv("SANDBOX_INTERPRETER", c.Sandbox.Interpreter)
	c.Checkpoints.Backend = getEnv("CHECKPOINTS_BACKEND", c.Checkpoints.Backend)
	c.Checkpoints.SQLitePath = getEnv("SQLITE_PATH", c.Checkpoints.SQLitePath)
	c.Checkpoints.RedisAddr = getEnv("REDIS_ADDR", c.Checkpoints.RedisAddr)
	c.Worker.RedisAddr = getEnv("REDIS_ADDR", c.Worker.RedisAddr)
	c.Worker.Queue = getEnv("WORKER_QUEUE", c.Worker.Queue)
	c.Tools.Addr = getEnv("TOOLS_ADDR", c.Tools.Addr)
	c.Tools.BaseURL = getEnv("TOOLS_BASE_URL", c.Tools.BaseURL)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)

	var errs []error
	intEnv := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	durationEnv := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	intEnv("LLM_MAX_RETRIES", &c.LLM.MaxRetries)
	intEnv("REPAIR_MAX_STEPS", &c.Repair.MaxSteps)
	intEnv("WORKER_CONCURRENCY", &c.Worker.Concurrency)
	durationEnv("SANDBOX_TIMEOUT", &c.Sandbox.Timeout)
	durationEnv("REPAIR_TIMEOUT", &c.Repair.Timeout)
	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	switch c.Sandbox.Kind {
	case SandboxLua:
	case SandboxProcess:
		if c.Sandbox.Interpreter == "" {
			errs = append(errs, errors.New("sandbox.interpreter is required for the process sandbox"))
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.kind must be lua or process, got %q", c.Sandbox.Kind))
	}
	switch c.Checkpoints.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("checkpoints.backend must be memory, sqlite or redis, got %q", c.Checkpoints.Backend))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, errors.New("sandbox.timeout must be positive"))
	}
	if c.Repair.MaxSteps <= 0 {
		errs = append(errs, errors.New("repair.max_steps must be positive"))
	}
	if c.Repair.Timeout < 0 {
		errs = append(errs, errors.New("repair.timeout cannot be negative"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries cannot be negative"))
	}
	if c.RAG.ChunkSize <= 0 || c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, errors.New("rag.chunk_overlap must be smaller than a positive rag.chunk_size"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be positive"))
	}
	return errors.Join(errs...)
}
