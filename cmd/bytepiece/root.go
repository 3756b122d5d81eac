package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/example/go-bytepiece/internal/config"
	"github.com/example/go-bytepiece/internal/server"
	"github.com/example/go-bytepiece/internal/tokenizer"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "bytepiece",
		Short:         "BytePiece tokenizer command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newEncodeCmd())
	cmd.AddCommand(newTokenizeCmd())
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newModelCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := server.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.ModelPath == "" {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return activeCfg, nil
}

// modelPath lets BYTEPIECE_MODEL stand in for the default model location.
func modelPath(cfg config.Config) string {
	if cfg.Paths.ModelPath == tokenizer.DefaultModelPath {
		return tokenizer.ResolveModelPath("")
	}
	return cfg.Paths.ModelPath
}

func openTokenizer(cfg config.Config) (*tokenizer.Tokenizer, error) {
	return tokenizer.Open(modelPath(cfg),
		tokenizer.WithWorkers(cfg.Tokenizer.Workers),
		tokenizer.WithParallelThreshold(cfg.Tokenizer.ParallelThreshold),
		tokenizer.WithStrictUTF8(cfg.Tokenizer.StrictUTF8),
		tokenizer.WithLogger(slog.Default()),
	)
}

func encodeOptions(cfg config.Config) tokenizer.EncodeOptions {
	return tokenizer.EncodeOptions{
		AddBOS:    cfg.Tokenizer.AddBOS,
		AddEOS:    cfg.Tokenizer.AddEOS,
		Alpha:     cfg.Tokenizer.Alpha,
		Normalize: cfg.Tokenizer.Normalize,
	}
}

// inputText joins positional arguments with spaces, or reads all of stdin
// when there are none.
func inputText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return string(b), nil
}
