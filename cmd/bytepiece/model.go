package main

import (
	"fmt"
	"os"

	"github.com/example/go-bytepiece/internal/model"
	"github.com/spf13/cobra"
)

// tokenEnv supplies the bearer token for model download when --token is unset.
const tokenEnv = "BYTEPIECE_MODEL_TOKEN"

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Model acquisition and verification commands",
	}

	cmd.AddCommand(newModelInfoCmd())
	cmd.AddCommand(newModelVerifyCmd())
	cmd.AddCommand(newModelDownloadCmd())
	return cmd
}

func newModelInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print statistics of the configured model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			info, _, err := model.Inspect(modelPath(cfg))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "path:           %s\n", info.Path)
			_, _ = fmt.Fprintf(out, "sha256:         %s\n", info.SHA256)
			_, _ = fmt.Fprintf(out, "ids:            %d\n", info.Size)
			_, _ = fmt.Fprintf(out, "total freq:     %d\n", info.TotalFreq)
			_, _ = fmt.Fprintf(out, "max token len:  %d\n", info.MaxTokenLen)
			_, err = fmt.Fprintf(out, "missing bytes:  %d\n", info.MissingBytes)
			return err
		},
	}
}

func newModelVerifyCmd() *cobra.Command {
	var probe string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Load the configured model and round-trip a probe text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if err := model.Verify(cmd.Context(), model.VerifyOptions{
				Path:   modelPath(cfg),
				Probe:  probe,
				Stdout: cmd.OutOrStdout(),
			}); err != nil {
				return fmt.Errorf("model verify failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&probe, "probe", "", "Text to round-trip (default: built-in multilingual sample)")

	return cmd
}

func newModelDownloadCmd() *cobra.Command {
	var (
		url   string
		out   string
		sha   string
		token string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download a model file and pin its checksum",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				return fmt.Errorf("--url is required")
			}
			if token == "" {
				token = os.Getenv(tokenEnv)
			}
			if out == "" {
				if cfg, err := requireConfig(); err == nil {
					out = cfg.Paths.ModelPath
				}
			}

			if _, err := model.Download(cmd.Context(), model.DownloadOptions{
				URL:     url,
				OutPath: out,
				SHA256:  sha,
				Token:   token,
				Stdout:  cmd.OutOrStdout(),
			}); err != nil {
				return fmt.Errorf("model download failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Model URL (required)")
	cmd.Flags().StringVar(&out, "out", "", "Destination path (default: the configured model path)")
	cmd.Flags().StringVar(&sha, "sha256", "", "Expected SHA-256; when empty the lock manifest pins the first download")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token (falls back to "+tokenEnv+")")

	return cmd
}
