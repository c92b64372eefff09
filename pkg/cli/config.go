package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/voicecmd/pkg/storage"
)

const (
	// DefaultBaseDir is the base configuration directory name
	DefaultBaseDir = ".voicecmd"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
	// DefaultContextName is used when no context is configured
	DefaultContextName = "default"
)

// Context defaults.
const (
	DefaultDevice              = -1
	DefaultBlockMS             = 500
	DefaultSilenceLevel        = 7
	DefaultSilenceHangover     = 1
	DefaultConfidenceThreshold = 0.9
	DefaultMaxDurationMS       = 3000
	DefaultInferenceTimeoutMS  = 2000
)

// ErrContextNotFound is returned for unknown context names.
var ErrContextNotFound = errors.New("cli: context not found")

// Config represents the main configuration structure for a CLI app
type Config struct {
	// AppName is the application name
	AppName string `yaml:"-"`

	// CurrentContext is the name of the currently active context
	CurrentContext string `yaml:"current_context,omitempty"`

	// Contexts is a map of context name to context configuration
	Contexts map[string]*Context `yaml:"contexts,omitempty"`

	// configPath is the path to the config file
	configPath string
}

// Context is one named recognizer setup. Zero values mean "use the
// default"; the accessor methods apply the defaults.
type Context struct {
	Name string `yaml:"name"`

	// Weights is the model artifact: a local path or s3://bucket/key.
	Weights string `yaml:"weights,omitempty"`

	// Device is the PortAudio input device index; -1 selects the default.
	Device *int `yaml:"device,omitempty"`

	BlockMS             int     `yaml:"block_ms,omitempty"`
	SilenceLevel        float32 `yaml:"silence_level,omitempty"`
	SilenceHangover     int     `yaml:"silence_hangover,omitempty"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty"`
	MaxDurationMS       int     `yaml:"max_duration_ms,omitempty"`
	InferenceTimeoutMS  int     `yaml:"inference_timeout_ms,omitempty"`

	S3 *storage.S3Config `yaml:"s3,omitempty"`
}

// LoadConfig loads or creates configuration for the specified app
func LoadConfig(appName string) (*Config, error) {
	return LoadConfigWithPath(appName, "")
}

// LoadConfigWithPath loads configuration from a custom path
func LoadConfigWithPath(appName, customPath string) (*Config, error) {
	configPath := customPath
	if configPath == "" {
		paths, err := NewPaths(appName)
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = paths.ConfigFile()
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := &Config{
		AppName:    appName,
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	for name, ctx := range cfg.Contexts {
		ctx.Name = name
	}
	cfg.AppName = appName
	cfg.configPath = configPath
	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory path
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// AddContext adds or replaces a context
func (c *Config) AddContext(name string, ctx *Context) error {
	ctx.Name = name
	c.Contexts[name] = ctx
	return c.Save()
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("%w: %q", ErrContextNotFound, name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("%w: %q", ErrContextNotFound, name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns a specific context
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrContextNotFound, name)
	}
	return ctx, nil
}

// ResolveContext returns the named context. An empty name selects the
// current context; with no current context an unsaved default context is
// returned so the CLI works without any configuration.
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		name = c.CurrentContext
	}
	if name == "" {
		if ctx, ok := c.Contexts[DefaultContextName]; ok {
			return ctx, nil
		}
		return &Context{Name: DefaultContextName}, nil
	}
	return c.GetContext(name)
}

// ListContexts returns all context names, sorted
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DeviceIndex returns the configured device or DefaultDevice.
func (ctx *Context) DeviceIndex() int {
	if ctx.Device == nil {
		return DefaultDevice
	}
	return *ctx.Device
}

// BlockDuration returns the capture block length.
func (ctx *Context) BlockDuration() time.Duration {
	return msOr(ctx.BlockMS, DefaultBlockMS)
}

// MaxDuration returns the utterance length bound.
func (ctx *Context) MaxDuration() time.Duration {
	return msOr(ctx.MaxDurationMS, DefaultMaxDurationMS)
}

// InferenceTimeout returns the per-utterance inference bound.
func (ctx *Context) InferenceTimeout() time.Duration {
	return msOr(ctx.InferenceTimeoutMS, DefaultInferenceTimeoutMS)
}

// Silence returns the silence level and hangover.
func (ctx *Context) Silence() (level float32, hangover int) {
	level, hangover = ctx.SilenceLevel, ctx.SilenceHangover
	if level == 0 {
		level = DefaultSilenceLevel
	}
	if hangover == 0 {
		hangover = DefaultSilenceHangover
	}
	return level, hangover
}

// Threshold returns the confidence threshold.
func (ctx *Context) Threshold() float64 {
	if ctx.ConfidenceThreshold == 0 {
		return DefaultConfidenceThreshold
	}
	return ctx.ConfidenceThreshold
}

// S3Config returns the S3 settings, possibly empty.
func (ctx *Context) S3Config() storage.S3Config {
	if ctx.S3 == nil {
		return storage.S3Config{}
	}
	return *ctx.S3
}

func msOr(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

// ContextFields lists the keys accepted by Context.Set.
var ContextFields = []string{
	"weights", "device", "block_ms", "silence_level", "silence_hangover",
	"confidence_threshold", "max_duration_ms", "inference_timeout_ms",
	"s3.endpoint", "s3.region", "s3.access_key", "s3.secret_key", "s3.path_style",
}

// Set assigns a field from its textual form, as used by
// "voicecmd config context set".
func (ctx *Context) Set(field, value string) error {
	bad := func(err error) error {
		return fmt.Errorf("cli: %s=%q: %w", field, value, err)
	}
	atoi := func(dst *int, lo int) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return bad(err)
		}
		if v < lo {
			return bad(fmt.Errorf("must be >= %d", lo))
		}
		*dst = v
		return nil
	}
	s3cfg := func() *storage.S3Config {
		if ctx.S3 == nil {
			ctx.S3 = &storage.S3Config{}
		}
		return ctx.S3
	}

	switch field {
	case "weights":
		ctx.Weights = value
	case "device":
		var v int
		if err := atoi(&v, -1); err != nil {
			return err
		}
		ctx.Device = &v
	case "block_ms":
		return atoi(&ctx.BlockMS, 1)
	case "silence_level":
		v, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return bad(err)
		}
		if v < 0 {
			return bad(errors.New("must be >= 0"))
		}
		ctx.SilenceLevel = float32(v)
	case "silence_hangover":
		return atoi(&ctx.SilenceHangover, 1)
	case "confidence_threshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return bad(err)
		}
		if !(v > 0 && v < 1) {
			return bad(errors.New("must be in (0, 1)"))
		}
		ctx.ConfidenceThreshold = v
	case "max_duration_ms":
		return atoi(&ctx.MaxDurationMS, 1)
	case "inference_timeout_ms":
		return atoi(&ctx.InferenceTimeoutMS, 0)
	case "s3.endpoint":
		s3cfg().Endpoint = value
	case "s3.region":
		s3cfg().Region = value
	case "s3.access_key":
		s3cfg().AccessKey = value
	case "s3.secret_key":
		s3cfg().SecretKey = value
	case "s3.path_style":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return bad(err)
		}
		s3cfg().PathStyle = v
	default:
		return fmt.Errorf("cli: unknown field %q (want one of %s)", field, strings.Join(ContextFields, ", "))
	}
	return nil
}

// MaskAPIKey masks a secret for display
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
