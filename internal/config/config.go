package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/nerdneilsfield/go-phi-guard/internal/logger"
	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/deepl"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/deeplx"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/google"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/libretranslate"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/ollama"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/openai"
	"github.com/nerdneilsfield/go-phi-guard/pkg/providers/ratelimit"
	"github.com/nerdneilsfield/go-phi-guard/pkg/recognizers/ner"
)

// EnvPrefix 环境变量前缀，例如 PHIGUARD_PROVIDER_OPENAI_API_KEY
const EnvPrefix = "PHIGUARD"

// Config 全局配置
type Config struct {
	SourceLang string `mapstructure:"source_lang" validate:"required"`
	TargetLang string `mapstructure:"target_lang" validate:"required"`
	// Workers 并发处理的文档数，0 表示按 CPU 数
	Workers int `mapstructure:"workers" validate:"gte=0"`
	// CatalogPath 自定义规则目录，留空使用内置目录
	CatalogPath     string            `mapstructure:"catalog"`
	SourceDateOrder protect.DateOrder `mapstructure:"source_date_order" validate:"omitempty,oneof=DMY MDY YMD"`

	Token   protect.TokenConfig    `mapstructure:"token"`
	Restore protect.RestoreOptions `mapstructure:"restore"`
	Retry   protect.RetryPolicy    `mapstructure:"retry"`

	Provider  ProviderConfig  `mapstructure:"provider"`
	Detection DetectionConfig `mapstructure:"detection"`
	Ontology  OntologyConfig  `mapstructure:"ontology"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Log       logger.Config   `mapstructure:"log"`
}

// ProviderConfig 翻译后端配置
type ProviderConfig struct {
	Name      string `mapstructure:"name" validate:"oneof=identity libretranslate deepl deeplx google ollama openai"`
	CacheSize int    `mapstructure:"cache_size" validate:"gte=0"`
	// StatsPath 后端统计文件，留空不记录
	StatsPath      string                `mapstructure:"stats_path"`
	RateLimit      ratelimit.Config      `mapstructure:"rate_limit"`
	LibreTranslate libretranslate.Config `mapstructure:"libretranslate"`
	DeepL          deepl.Config          `mapstructure:"deepl"`
	DeepLX         deeplx.Config         `mapstructure:"deeplx"`
	Google         google.Config         `mapstructure:"google"`
	Ollama         ollama.Config         `mapstructure:"ollama"`
	OpenAI         openai.Config         `mapstructure:"openai"`
}

// DetectionConfig 检测器配置
type DetectionConfig struct {
	// NER.URL 为空时不启用 NER 旁路
	NER              ner.Config      `mapstructure:"ner"`
	NERMinConfidence float64         `mapstructure:"ner_min_confidence" validate:"gte=0,lte=1"`
	Gazetteer        GazetteerConfig `mapstructure:"gazetteer"`
	// Terminology 启用本体术语锚定
	Terminology  bool `mapstructure:"terminology"`
	MaxTermWords int  `mapstructure:"max_term_words" validate:"gte=0"`
}

// GazetteerConfig 人名词典
type GazetteerConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Path       string  `mapstructure:"path"`
	Confidence float64 `mapstructure:"confidence" validate:"gte=0,lte=1"`
}

// OntologyConfig 术语来源，两者都配置时先查词表
type OntologyConfig struct {
	Glossary string `mapstructure:"glossary"`
	UMLS     string `mapstructure:"umls"`
}

// AuditConfig 审计存储
type AuditConfig struct {
	Sink string `mapstructure:"sink" validate:"oneof=none stderr jsonl bolt"`
	Path string `mapstructure:"path" validate:"required_if=Sink jsonl,required_if=Sink bolt"`
}

// LoadConfig 加载配置。未找到配置文件时使用默认值。
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".phiguard")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Token.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewDefaultConfig 返回默认配置
func NewDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source_lang", "es")
	v.SetDefault("target_lang", "en")
	v.SetDefault("workers", 0)
	v.SetDefault("catalog", "")
	v.SetDefault("source_date_order", string(protect.DateOrderDMY))

	v.SetDefault("token.prefix", protect.DefaultTokenConfig.Prefix)
	v.SetDefault("token.suffix", protect.DefaultTokenConfig.Suffix)
	v.SetDefault("token.width", protect.DefaultTokenConfig.Width)

	v.SetDefault("restore.date_order", "")
	v.SetDefault("restore.phone_separator", "")
	v.SetDefault("restore.name_case", "")
	v.SetDefault("restore.apply_terminology", false)

	v.SetDefault("retry.timeout", protect.DefaultRetryPolicy.Timeout)
	v.SetDefault("retry.max_attempts", protect.DefaultRetryPolicy.MaxAttempts)
	v.SetDefault("retry.base_delay", protect.DefaultRetryPolicy.BaseDelay)
	v.SetDefault("retry.max_delay", protect.DefaultRetryPolicy.MaxDelay)

	v.SetDefault("provider.name", "identity")
	v.SetDefault("provider.cache_size", 0)
	v.SetDefault("provider.stats_path", "")
	v.SetDefault("provider.rate_limit.requests_per_second", 0)
	v.SetDefault("provider.rate_limit.burst", 1)

	libre := libretranslate.DefaultConfig()
	v.SetDefault("provider.libretranslate.api_endpoint", libre.APIEndpoint)
	v.SetDefault("provider.libretranslate.api_key", "")
	v.SetDefault("provider.libretranslate.timeout", libre.Timeout)

	dl := deepl.DefaultConfig()
	v.SetDefault("provider.deepl.api_endpoint", "")
	v.SetDefault("provider.deepl.api_key", "")
	v.SetDefault("provider.deepl.use_free_api", false)
	v.SetDefault("provider.deepl.timeout", dl.Timeout)

	dlx := deeplx.DefaultConfig()
	v.SetDefault("provider.deeplx.api_endpoint", dlx.APIEndpoint)
	v.SetDefault("provider.deeplx.access_token", "")
	v.SetDefault("provider.deeplx.timeout", dlx.Timeout)

	gg := google.DefaultConfig()
	v.SetDefault("provider.google.api_endpoint", gg.APIEndpoint)
	v.SetDefault("provider.google.api_key", "")
	v.SetDefault("provider.google.project_id", "")
	v.SetDefault("provider.google.timeout", gg.Timeout)

	ol := ollama.DefaultConfig()
	v.SetDefault("provider.ollama.api_endpoint", ol.APIEndpoint)
	v.SetDefault("provider.ollama.model", ol.Model)
	v.SetDefault("provider.ollama.temperature", ol.Temperature)
	v.SetDefault("provider.ollama.max_tokens", ol.MaxTokens)
	v.SetDefault("provider.ollama.timeout", ol.Timeout)

	oa := openai.DefaultConfig()
	v.SetDefault("provider.openai.api_endpoint", "")
	v.SetDefault("provider.openai.api_key", "")
	v.SetDefault("provider.openai.model", oa.Model)
	v.SetDefault("provider.openai.temperature", oa.Temperature)
	v.SetDefault("provider.openai.max_tokens", oa.MaxTokens)
	v.SetDefault("provider.openai.timeout", oa.Timeout)

	v.SetDefault("detection.ner.url", "")
	v.SetDefault("detection.ner.timeout", "10s")
	v.SetDefault("detection.ner_min_confidence", 0.5)
	v.SetDefault("detection.gazetteer.enabled", false)
	v.SetDefault("detection.gazetteer.path", "")
	v.SetDefault("detection.gazetteer.confidence", 0.7)
	v.SetDefault("detection.terminology", false)
	v.SetDefault("detection.max_term_words", 4)

	v.SetDefault("ontology.glossary", "")
	v.SetDefault("ontology.umls", "")

	v.SetDefault("audit.sink", "stderr")
	v.SetDefault("audit.path", "")

	v.SetDefault("log.debug", false)
	v.SetDefault("log.format", "json")
}
