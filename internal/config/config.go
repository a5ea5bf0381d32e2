package config

import (
	"errors"
	"io/fs"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Scratch   ScratchConfig   `yaml:"scratch" mapstructure:"scratch"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Direct    DirectConfig    `yaml:"direct" mapstructure:"direct"`
	Cloud     CloudConfig     `yaml:"cloud" mapstructure:"cloud"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Structure StructureConfig `yaml:"structure" mapstructure:"structure"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
}

// ServerConfig configures the upload server.
type ServerConfig struct {
	Port             int        `yaml:"port" mapstructure:"port"`
	MaxUploadMB      int        `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	ReadTimeoutSecs  int        `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int        `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
	CORS             CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig configures the cross-origin policy applied to every route.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ScratchConfig configures per-request temporary storage.
type ScratchConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// NormalizeConfig configures the PDF simplification step.
type NormalizeConfig struct {
	Engine          string `yaml:"engine" mapstructure:"engine"`
	GhostscriptPath string `yaml:"ghostscript_path" mapstructure:"ghostscript_path"`
	PDFSettings     string `yaml:"pdf_settings" mapstructure:"pdf_settings"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DirectConfig configures embedded text-layer extraction.
type DirectConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// CloudConfig configures the object store and cloud text detection. The cloud
// stage is disabled when Bucket is empty.
type CloudConfig struct {
	Bucket            string  `yaml:"bucket" mapstructure:"bucket"`
	KeyPrefix         string  `yaml:"key_prefix" mapstructure:"key_prefix"`
	CredentialsFile   string  `yaml:"credentials_file" mapstructure:"credentials_file"`
	UploadTimeoutSecs int     `yaml:"upload_timeout_secs" mapstructure:"upload_timeout_secs"`
	DetectTimeoutSecs int     `yaml:"detect_timeout_secs" mapstructure:"detect_timeout_secs"`
	RatePerSec        float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Enabled reports whether the cloud OCR stage is configured.
func (c CloudConfig) Enabled() bool {
	return c.Bucket != ""
}

// OCRConfig configures page rasterization and local OCR.
type OCRConfig struct {
	PdfToPPMPath string   `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	DPI          int      `yaml:"dpi" mapstructure:"dpi"`
	Languages    []string `yaml:"languages" mapstructure:"languages"`
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency"`
}

// StructureConfig configures the language-model structuring call.
type StructureConfig struct {
	Provider     string          `yaml:"provider" mapstructure:"provider"`
	Model        string          `yaml:"model" mapstructure:"model"`
	SystemPrompt string          `yaml:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens    int             `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs  int             `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	OpenAI       OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Anthropic    AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Vertex       VertexConfig    `yaml:"vertex" mapstructure:"vertex"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// VertexConfig holds Vertex AI settings. Credentials come from ADC.
type VertexConfig struct {
	ProjectID string `yaml:"project_id" mapstructure:"project_id"`
	Region    string `yaml:"region" mapstructure:"region"`
}

// PipelineConfig selects the default extraction profile and overrides the
// failure policy of individual profiles (profile -> stage -> action).
type PipelineConfig struct {
	Profile  string                       `yaml:"profile" mapstructure:"profile"`
	Policies map[string]map[string]string `yaml:"policies" mapstructure:"policies"`
}

// Known option values, checked by Validate.
var (
	NormalizeEngines   = []string{"ghostscript", "pdfcpu", "none"}
	DirectProviders    = []string{"native", "pdftotext"}
	StructureProviders = []string{"openai", "anthropic", "vertex"}

	// DefaultModels is used when structure.model is unset.
	DefaultModels = map[string]string{
		"openai":    "gpt-4o-mini",
		"anthropic": "claude-haiku-4-5-20251001",
		"vertex":    "gemini-1.5-pro",
	}

	Profiles      = []string{"layered", "cloud"}
	PolicyStages  = []string{"cloud_upload", "cloud_detect"}
	PolicyActions = []string{"fail", "fallback"}
)

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCEXTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are commonly exported under their vendor names.
	if err := v.BindEnv("structure.openai.key", "DOCEXTRACT_STRUCTURE_OPENAI_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind openai key")
	}
	if err := v.BindEnv("structure.anthropic.key", "DOCEXTRACT_STRUCTURE_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind anthropic key")
	}

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.read_timeout_secs", 60)
	v.SetDefault("server.write_timeout_secs", 600)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("scratch.dir", "")
	v.SetDefault("normalize.engine", "ghostscript")
	v.SetDefault("normalize.ghostscript_path", "gs")
	v.SetDefault("normalize.pdf_settings", "/printer")
	v.SetDefault("normalize.timeout_secs", 120)
	v.SetDefault("direct.provider", "native")
	v.SetDefault("direct.pdftotext_path", "pdftotext")
	v.SetDefault("cloud.bucket", "")
	v.SetDefault("cloud.key_prefix", "")
	v.SetDefault("cloud.credentials_file", "")
	v.SetDefault("cloud.upload_timeout_secs", 60)
	v.SetDefault("cloud.detect_timeout_secs", 120)
	v.SetDefault("cloud.rate_per_sec", 5.0)
	v.SetDefault("cloud.burst", 5)
	v.SetDefault("cloud.max_attempts", 1)
	v.SetDefault("cloud.breaker_threshold", 5)
	v.SetDefault("cloud.breaker_reset_secs", 30)
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.languages", []string{"eng"})
	v.SetDefault("ocr.concurrency", 4)
	v.SetDefault("structure.provider", "openai")
	v.SetDefault("structure.model", "")
	v.SetDefault("structure.system_prompt", "You are a helpful assistant. Please structure the following text:")
	v.SetDefault("structure.max_tokens", 4096)
	v.SetDefault("structure.timeout_secs", 120)
	v.SetDefault("structure.openai.base_url", "")
	v.SetDefault("structure.anthropic.base_url", "")
	v.SetDefault("structure.vertex.project_id", "")
	v.SetDefault("structure.vertex.region", "us-central1")
	v.SetDefault("pipeline.profile", "layered")
	v.SetDefault("pipeline.policies", map[string]map[string]string{
		"layered": {"cloud_upload": "fallback", "cloud_detect": "fallback"},
		"cloud":   {"cloud_upload": "fail", "cloud_detect": "fallback"},
	})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if cfg.Structure.Model == "" {
		cfg.Structure.Model = DefaultModels[cfg.Structure.Provider]
	}

	return &cfg, nil
}

// Validate checks option values that would otherwise only fail at request
// time. mode is the command being run ("serve" or "extract").
func (c *Config) Validate(mode string) error {
	var problems []string

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if mode == "serve" && c.Server.MaxUploadMB <= 0 {
		problems = append(problems, "server.max_upload_mb must be positive")
	}
	if !slices.Contains(NormalizeEngines, c.Normalize.Engine) {
		problems = append(problems, "normalize.engine must be one of "+strings.Join(NormalizeEngines, ", "))
	}
	if !slices.Contains(DirectProviders, c.Direct.Provider) {
		problems = append(problems, "direct.provider must be one of "+strings.Join(DirectProviders, ", "))
	}
	if !slices.Contains(StructureProviders, c.Structure.Provider) {
		problems = append(problems, "structure.provider must be one of "+strings.Join(StructureProviders, ", "))
	}
	if c.Structure.Provider == "vertex" && c.Structure.Vertex.ProjectID == "" {
		problems = append(problems, "structure.vertex.project_id is required for the vertex provider")
	}
	if c.OCR.DPI <= 0 {
		problems = append(problems, "ocr.dpi must be positive")
	}
	if !slices.Contains(Profiles, c.Pipeline.Profile) {
		problems = append(problems, "pipeline.profile must be one of "+strings.Join(Profiles, ", "))
	}
	for profile, policy := range c.Pipeline.Policies {
		if !slices.Contains(Profiles, profile) {
			problems = append(problems, "pipeline.policies: unknown profile "+profile)
			continue
		}
		for stage, action := range policy {
			if !slices.Contains(PolicyStages, stage) {
				problems = append(problems, "pipeline.policies."+profile+": stage "+stage+" is not configurable")
				continue
			}
			if !slices.Contains(PolicyActions, action) {
				problems = append(problems, "pipeline.policies."+profile+"."+stage+" must be fail or fallback")
			}
		}
	}

	if len(problems) > 0 {
		slices.Sort(problems)
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
