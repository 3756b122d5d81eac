// Package config loads bytepiece settings from defaults, an optional config
// file, BYTEPIECE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// BYTEPIECE_TOKENIZER_ALPHA.
const EnvPrefix = "BYTEPIECE"

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Server    ServerConfig    `mapstructure:"server"`
	LogLevel  string          `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelPath         string `mapstructure:"model_path"`
	BaselineModelPath string `mapstructure:"baseline_model_path"`
}

type TokenizerConfig struct {
	Alpha             float64 `mapstructure:"alpha"`
	Normalize         bool    `mapstructure:"normalize"`
	AddBOS            bool    `mapstructure:"add_bos"`
	AddEOS            bool    `mapstructure:"add_eos"`
	Workers           int     `mapstructure:"workers"` // 0 means runtime.NumCPU()
	ParallelThreshold int     `mapstructure:"parallel_threshold"`
	StrictUTF8        bool    `mapstructure:"strict_utf8"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	Workers         int           `mapstructure:"workers"`
	MaxTextBytes    int           `mapstructure:"max_text_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelPath:         "models/bytepiece_80k.model",
			BaselineModelPath: "",
		},
		Tokenizer: TokenizerConfig{
			Alpha:             -1,
			Normalize:         true,
			Workers:           0,
			ParallelThreshold: 2048,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         4,
			MaxTextBytes:    1 << 20,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each flag registered by RegisterFlags to its config key.
var flagKeys = []struct {
	flag string
	key  string
}{
	{"model", "paths.model_path"},
	{"baseline-model", "paths.baseline_model_path"},
	{"alpha", "tokenizer.alpha"},
	{"normalize", "tokenizer.normalize"},
	{"add-bos", "tokenizer.add_bos"},
	{"add-eos", "tokenizer.add_eos"},
	{"workers", "tokenizer.workers"},
	{"parallel-threshold", "tokenizer.parallel_threshold"},
	{"strict-utf8", "tokenizer.strict_utf8"},
	{"listen-addr", "server.listen_addr"},
	{"server-workers", "server.workers"},
	{"max-text-bytes", "server.max_text_bytes"},
	{"request-timeout", "server.request_timeout"},
	{"shutdown-timeout", "server.shutdown_timeout"},
	{"log-level", "log_level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("model", defaults.Paths.ModelPath, "Path to bytepiece JSON model")
	fs.String("baseline-model", defaults.Paths.BaselineModelPath, "Path to SentencePiece .model used as bench baseline")
	fs.Float64("alpha", defaults.Tokenizer.Alpha, "Sampling inverse temperature; <= 0 selects the most probable segmentation")
	fs.Bool("normalize", defaults.Tokenizer.Normalize, "Apply Unicode NFC before encoding")
	fs.Bool("add-bos", defaults.Tokenizer.AddBOS, "Prepend the <bos> token")
	fs.Bool("add-eos", defaults.Tokenizer.AddEOS, "Append the <eos> token")
	fs.Int("workers", defaults.Tokenizer.Workers, "Max chunks encoded concurrently per call (0 = NumCPU)")
	fs.Int("parallel-threshold", defaults.Tokenizer.ParallelThreshold, "Input bytes above which encoding runs in parallel")
	fs.Bool("strict-utf8", defaults.Tokenizer.StrictUTF8, "Fail decode on invalid UTF-8 instead of dropping bytes")
	fs.String("listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent HTTP tokenization requests")
	fs.Int("max-text-bytes", defaults.Server.MaxTextBytes, "Max request text size in bytes")
	fs.Duration("request-timeout", defaults.Server.RequestTimeout, "Per-request deadline")
	fs.Duration("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown deadline")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("bytepiece")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ValidateConfig rejects settings no component can run with.
func ValidateConfig(c Config) error {
	var errs []error

	if c.Tokenizer.Workers < 0 {
		errs = append(errs, fmt.Errorf("tokenizer.workers must be >= 0, got %d", c.Tokenizer.Workers))
	}

	if c.Tokenizer.ParallelThreshold < 0 {
		errs = append(errs, fmt.Errorf("tokenizer.parallel_threshold must be >= 0, got %d", c.Tokenizer.ParallelThreshold))
	}

	if c.Server.Workers < 0 {
		errs = append(errs, fmt.Errorf("server.workers must be >= 0, got %d", c.Server.Workers))
	}

	if c.Server.MaxTextBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_text_bytes must be > 0, got %d", c.Server.MaxTextBytes))
	}

	if c.Server.RequestTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_path", c.Paths.ModelPath)
	v.SetDefault("paths.baseline_model_path", c.Paths.BaselineModelPath)
	v.SetDefault("tokenizer.alpha", c.Tokenizer.Alpha)
	v.SetDefault("tokenizer.normalize", c.Tokenizer.Normalize)
	v.SetDefault("tokenizer.add_bos", c.Tokenizer.AddBOS)
	v.SetDefault("tokenizer.add_eos", c.Tokenizer.AddEOS)
	v.SetDefault("tokenizer.workers", c.Tokenizer.Workers)
	v.SetDefault("tokenizer.parallel_threshold", c.Tokenizer.ParallelThreshold)
	v.SetDefault("tokenizer.strict_utf8", c.Tokenizer.StrictUTF8)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags ties each known flag to its nested key. Flags missing from fs
// are skipped so subcommands may register a subset.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", fk.flag, err)
		}
	}

	return nil
}
