package main

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/example/go-bytepiece/internal/config"
	"github.com/example/go-bytepiece/internal/doctor"
	"github.com/example/go-bytepiece/internal/model"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			result := doctor.Run(doctorConfig(cfg), out)

			if result.Failed() {
				for _, f := range result.Failures() {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

func doctorConfig(cfg config.Config) doctor.Config {
	return doctor.Config{
		GoVersion: func() (string, error) { return runtime.Version(), nil },
		ConfigErr: config.ValidateConfig(cfg),
		ModelPath: modelPath(cfg),
		LoadModel: func(path string) (doctor.ModelReport, error) {
			info, _, err := model.Inspect(path)
			if err != nil {
				return doctor.ModelReport{}, err
			}
			return doctor.ModelReport{Size: info.Size, MissingBytes: info.MissingBytes}, nil
		},
		BaselineModelPath: cfg.Paths.BaselineModelPath,
	}
}
