package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newTokenizeCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "tokenize [text...]",
		Short: "Split text into byte pieces (reads stdin without arguments)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("--format must be 'text' or 'json'")
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

			pieces, err := tok.Tokenize(cmd.Context(), text, encodeOptions(cfg))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				if pieces == nil {
					pieces = [][]byte{}
				}
				return json.NewEncoder(out).Encode(map[string][][]byte{"pieces": pieces})
			}

			// %q keeps pieces that split a UTF-8 sequence readable.
			for _, p := range pieces {
				if _, err := fmt.Fprintf(out, "%q\n", p); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|json")

	return cmd
}
