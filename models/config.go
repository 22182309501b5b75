// Package models defines data structures for configuration, search results and turn state.
package models

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Capability names used in routes, logs and metrics.
const (
	CapabilityOptimize  = "optimize"
	CapabilitySummarize = "summarize"
	CapabilityDecide    = "decide"
	CapabilityDescribe  = "describe"
	CapabilityAnswer    = "answer"
	CapabilityFollowUp  = "follow_up"
	CapabilityTitle     = "title"
)

// Config is the full runtime configuration loaded from YAML.
type Config struct {
	LogLevel     string                    `yaml:"log_level"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Capabilities map[string]RouteConfig    `yaml:"capabilities"`
	Search       SearchConfig              `yaml:"search"`
	Fetch        FetchConfig               `yaml:"fetch"`
	Cache        CacheConfig               `yaml:"cache"`
	Pipeline     PipelineConfig            `yaml:"pipeline"`
	Archive      ArchiveConfig             `yaml:"archive"`
	Server       ServerConfig              `yaml:"server"`
}

// ProviderConfig describes one OpenAI-compatible LLM endpoint.
type ProviderConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKeys      []string      `yaml:"api_keys"`
	KeySelection string        `yaml:"key_selection"` // round-robin, weighted-random
	Timeout      time.Duration `yaml:"timeout"`
}

// RouteConfig binds a capability to a primary and an optional fallback target.
type RouteConfig struct {
	Primary  TargetConfig  `yaml:"primary"`
	Fallback *TargetConfig `yaml:"fallback,omitempty"`
}

// TargetConfig is a provider plus the models it may be asked to run.
type TargetConfig struct {
	Provider       string        `yaml:"provider"`
	Models         []ModelChoice `yaml:"models"`
	ModelSelection string        `yaml:"model_selection"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
}

// ModelChoice is one selectable model and its weight for weighted-random selection.
type ModelChoice struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// SearchConfig configures search providers and provider order per modality.
type SearchConfig struct {
	Web        SearchRoute      `yaml:"web"`
	Image      SearchRoute      `yaml:"image"`
	Brave      BraveConfig      `yaml:"brave"`
	DuckDuckGo DuckDuckGoConfig `yaml:"duckduckgo"`
}

// SearchRoute names the primary and fallback search provider.
type SearchRoute struct {
	Primary  string `yaml:"primary"`
	Fallback string `yaml:"fallback"`
	Count    int    `yaml:"count"`
}

type BraveConfig struct {
	APIKey         string        `yaml:"api_key"`
	WebURL         string        `yaml:"web_url"`
	ImageURL       string        `yaml:"image_url"`
	Country        string        `yaml:"country"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Timeout        time.Duration `yaml:"timeout"`
	SafeSearch     string        `yaml:"safesearch"`
	UseQueryLocale bool          `yaml:"use_query_locale"`
}

type DuckDuckGoConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Timeout       time.Duration `yaml:"timeout"`
}

// FetchConfig holds settings for page and image retrieval.
type FetchConfig struct {
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	MaxRedirects  int           `yaml:"max_redirects"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	MaxImageBytes int64         `yaml:"max_image_bytes"`
}

// CacheConfig selects the extracted-page cache backend.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // none, file, redis
	Dir       string        `yaml:"dir"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// PipelineConfig holds caps, counts and timeouts of the search pipeline.
type PipelineConfig struct {
	WebResultCap     int           `yaml:"web_result_cap"`
	ImageResultCap   int           `yaml:"image_result_cap"`
	WebQueryCount    int           `yaml:"web_query_count"`
	ImageQueryCount  int           `yaml:"image_query_count"`
	FollowUpCount    int           `yaml:"follow_up_count"`
	ChunkSize        int           `yaml:"chunk_size"`
	MaxChunks        int           `yaml:"max_chunks"`
	ChunkTokens      int           `yaml:"chunk_tokens"`
	SummaryTokens    int           `yaml:"summary_tokens"`
	SummarizeTimeout time.Duration `yaml:"summarize_timeout"`
	DescribeTimeout  time.Duration `yaml:"describe_timeout"`
	Workers          int           `yaml:"workers"`
	ImageSearch      bool          `yaml:"image_search"`
	ImageConstraint  string        `yaml:"image_constraint"`
	ExactURLs        bool          `yaml:"exact_urls"`
	ValidateCitation bool          `yaml:"validate_citations"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
}

// DefaultImageConstraint gates the image sub-pipeline.
const DefaultImageConstraint = "Would image or diagram responses be helpful in response to the given query?"

// DefaultUserAgent is sent on every page and image request.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultConfig returns a configuration that works with only environment credentials set.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Providers: map[string]ProviderConfig{
			"cerebras": {BaseURL: "https://api.cerebras.ai/v1", APIKeys: []string{"${CEREBRAS_API_KEY}"}, KeySelection: "round-robin", Timeout: 60 * time.Second},
			"groq":     {BaseURL: "https://api.groq.com/openai/v1", APIKeys: []string{"${GROQ_API_KEY}"}, KeySelection: "round-robin", Timeout: 60 * time.Second},
			"openai":   {BaseURL: "https://api.openai.com/v1", APIKeys: []string{"${OPENAI_API_KEY}"}, KeySelection: "round-robin", Timeout: 120 * time.Second},
		},
		Capabilities: map[string]RouteConfig{
			CapabilityOptimize: {
				Primary:  TargetConfig{Provider: "cerebras", Models: []ModelChoice{{Name: "llama-3.3-70b", Weight: 1}}},
				Fallback: &TargetConfig{Provider: "openai", Models: []ModelChoice{{Name: "gpt-4o-mini", Weight: 1}}},
			},
			CapabilitySummarize: {
				Primary: TargetConfig{Provider: "cerebras", ModelSelection: "weighted-random", Models: []ModelChoice{
					{Name: "llama-3.3-70b", Weight: 0.5}, {Name: "llama-3.1-70b", Weight: 0.5},
				}},
				Fallback: &TargetConfig{Provider: "openai", Models: []ModelChoice{{Name: "gpt-4o-mini", Weight: 1}}},
			},
			CapabilityDecide: {
				Primary:  TargetConfig{Provider: "groq", Models: []ModelChoice{{Name: "llama3-8b-8192", Weight: 1}}},
				Fallback: &TargetConfig{Provider: "openai", Models: []ModelChoice{{Name: "gpt-4o-mini", Weight: 1}}},
			},
			CapabilityDescribe: {
				Primary: TargetConfig{Provider: "groq", ModelSelection: "weighted-random", MaxTokens: 384, Temperature: 0.2, Models: []ModelChoice{
					{Name: "llama-3.2-11b-vision-preview", Weight: 0.75}, {Name: "llama-3.2-90b-vision-preview", Weight: 0.25},
				}},
				Fallback: &TargetConfig{Provider: "openai", MaxTokens: 384, Temperature: 0.2, Models: []ModelChoice{{Name: "gpt-4o-mini", Weight: 1}}},
			},
			CapabilityAnswer: {
				Primary: TargetConfig{Provider: "openai", Models: []ModelChoice{{Name: "gpt-4o-mini", Weight: 1}}},
			},
			CapabilityFollowUp: {
				Primary:  TargetConfig{Provider: "groq", Models: []ModelChoice{{Name: "llama-3.3-70b-versatile", Weight: 1}}},
				Fallback: &TargetConfig{Provider: "openai", Models: []ModelChoice{{Name: "gpt-4o-mini", Weight: 1}}},
			},
			CapabilityTitle: {
				Primary:  TargetConfig{Provider: "groq", MaxTokens: 32, Models: []ModelChoice{{Name: "llama3-8b-8192", Weight: 1}}},
				Fallback: &TargetConfig{Provider: "openai", MaxTokens: 32, Models: []ModelChoice{{Name: "gpt-4o-mini", Weight: 1}}},
			},
		},
		Search: SearchConfig{
			Web:   SearchRoute{Primary: "brave", Fallback: "duckduckgo", Count: 5},
			Image: SearchRoute{Primary: "brave", Count: 10},
			Brave: BraveConfig{
				APIKey:        "${BRAVE_API_KEY}",
				WebURL:        "https://api.search.brave.com/res/v1/web/search",
				ImageURL:      "https://api.search.brave.com/res/v1/images/search",
				RatePerSecond: 1,
				Timeout:       10 * time.Second,
				SafeSearch:    "strict",
			},
			DuckDuckGo: DuckDuckGoConfig{
				Enabled:       true,
				URL:           "https://lite.duckduckgo.com/lite/",
				RatePerSecond: 1,
				Timeout:       15 * time.Second,
			},
		},
		Fetch: FetchConfig{
			UserAgent:     DefaultUserAgent,
			Timeout:       10 * time.Second,
			ProbeTimeout:  5 * time.Second,
			MaxRedirects:  5,
			MaxBodyBytes:  5 << 20,
			MaxImageBytes: 4 << 20,
		},
		Cache: CacheConfig{
			Backend:   "none",
			Dir:       ".lws-cache",
			TTL:       24 * time.Hour,
			RedisAddr: "localhost:6379",
			KeyPrefix: "lws:page:",
		},
		Pipeline: PipelineConfig{
			WebResultCap:     5,
			ImageResultCap:   6,
			WebQueryCount:    3,
			ImageQueryCount:  3,
			FollowUpCount:    5,
			ChunkSize:        8000,
			MaxChunks:        3,
			ChunkTokens:      384,
			SummaryTokens:    2048,
			SummarizeTimeout: 45 * time.Second,
			DescribeTimeout:  10 * time.Second,
			Workers:          8,
			ImageSearch:      true,
			ImageConstraint:  DefaultImageConstraint,
			ValidateCitation: true,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			Heartbeat:       15 * time.Second,
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.expandEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv resolves ${VAR} references in credentials and drops empty keys.
func (c *Config) expandEnv() {
	for name, p := range c.Providers {
		keys := make([]string, 0, len(p.APIKeys))
		for _, k := range p.APIKeys {
			if v := strings.TrimSpace(os.ExpandEnv(k)); v != "" {
				keys = append(keys, v)
			}
		}
		p.APIKeys = keys
		p.BaseURL = os.ExpandEnv(p.BaseURL)
		c.Providers[name] = p
	}
	c.Search.Brave.APIKey = strings.TrimSpace(os.ExpandEnv(c.Search.Brave.APIKey))
	c.Cache.RedisAddr = os.ExpandEnv(c.Cache.RedisAddr)
}

// Validate checks structural sanity. Missing credentials are reported by the gateway.
func (c *Config) Validate() error {
	var errs []error
	p := c.Pipeline
	if p.WebResultCap <= 0 || p.ImageResultCap <= 0 {
		errs = append(errs, errors.New("pipeline result caps must be positive"))
	}
	if p.WebQueryCount <= 0 || p.ImageQueryCount <= 0 {
		errs = append(errs, errors.New("pipeline query counts must be positive"))
	}
	if p.ChunkSize <= 0 || p.MaxChunks <= 0 {
		errs = append(errs, errors.New("pipeline chunk_size and max_chunks must be positive"))
	}
	if p.SummarizeTimeout <= 0 || p.DescribeTimeout <= 0 {
		errs = append(errs, errors.New("pipeline timeouts must be positive"))
	}
	if p.Workers <= 0 {
		errs = append(errs, errors.New("pipeline workers must be positive"))
	}
	for name, route := range c.Capabilities {
		if err := c.validateTarget(name, "primary", route.Primary); err != nil {
			errs = append(errs, err)
		}
		if route.Fallback != nil {
			if err := c.validateTarget(name, "fallback", *route.Fallback); err != nil {
				errs = append(errs, err)
			}
		}
	}
	switch c.Cache.Backend {
	case "", "none", "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	return errors.Join(errs...)
}

func (c *Config) validateTarget(capability, role string, t TargetConfig) error {
	if _, ok := c.Providers[t.Provider]; !ok {
		return fmt.Errorf("capability %s %s: unknown provider %q", capability, role, t.Provider)
	}
	if len(t.Models) == 0 {
		return fmt.Errorf("capability %s %s: no models configured", capability, role)
	}
	return nil
}
