package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newEncodeCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "encode [text...]",
		Short: "Encode text to token IDs (reads stdin without arguments)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "ids" && format != "json" {
				return fmt.Errorf("--format must be 'ids' or 'json'")
			}

			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			text, err := inputText(cmd, args)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			tok, err := openTokenizer(cfg)
			if err != nil {
				return err
			}

			ids, err := tok.Encode(cmd.Context(), text, encodeOptions(cfg))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				if ids == nil {
					ids = []int{}
				}
				return json.NewEncoder(out).Encode(map[string][]int{"ids": ids})
			}

			fields := make([]string, len(ids))
			for i, id := range ids {
				fields[i] = strconv.Itoa(id)
			}
			_, err = fmt.Fprintln(out, strings.Join(fields, " "))
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "ids", "Output format: ids|json")

	return cmd
}
