package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultModelURL u2netp 的公开下载地址
const DefaultModelURL = "https://github.com/danielgatis/rembg/releases/download/v0.0.0/u2netp.onnx"

// EnvPrefix 环境变量前缀，例如 CUTOUT_MODEL_PATH 覆盖 model.path
const EnvPrefix = "CUTOUT"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Model    ModelConfig    `mapstructure:"model"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

type LogConfig struct {
	// Mode release 输出 JSON，其余为开发格式
	Mode string `mapstructure:"mode"`
}

type ModelConfig struct {
	Name        string        `mapstructure:"name"`
	Path        string        `mapstructure:"path"`
	URL         string        `mapstructure:"url"`
	CacheDir    string        `mapstructure:"cache_dir"`
	Backend     string        `mapstructure:"backend"`
	Threads     int           `mapstructure:"threads"`
	LibraryPath string        `mapstructure:"library_path"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

type PipelineConfig struct {
	Resampler        string        `mapstructure:"resampler"`
	Workers          int           `mapstructure:"workers"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// Load 从 YAML 文件加载配置，configPath 为空时只用默认值和环境变量
func Load(configPath string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// New 加载失败时返回默认配置
func New(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.mode", d.Log.Mode)

	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.path", d.Model.Path)
	v.SetDefault("model.url", d.Model.URL)
	v.SetDefault("model.cache_dir", d.Model.CacheDir)
	v.SetDefault("model.backend", d.Model.Backend)
	v.SetDefault("model.threads", d.Model.Threads)
	v.SetDefault("model.library_path", d.Model.LibraryPath)
	v.SetDefault("model.load_timeout", d.Model.LoadTimeout)

	v.SetDefault("pipeline.resampler", d.Pipeline.Resampler)
	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.inference_timeout", d.Pipeline.InferenceTimeout)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Log: LogConfig{Mode: "debug"},
		Model: ModelConfig{
			Name:        "u2netp.onnx",
			URL:         DefaultModelURL,
			CacheDir:    "./models",
			Backend:     "cpu",
			LoadTimeout: 2 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Resampler: "catmullrom",
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/webp"},
		},
	}
}
