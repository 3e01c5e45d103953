package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"csvmerge/internal/config"
	"csvmerge/internal/detector"
	"csvmerge/internal/parser"
	"csvmerge/internal/probe"
	"csvmerge/internal/transformer"
	"csvmerge/internal/transformer/builtin"
	"csvmerge/pkg/records"
)

func newDetectCmd() *cobra.Command {
	var sources, targets []string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Propose transformations and direct mappings between two headers",
		Example: `  csvmerge detect --source "Full Name,Email" --target "First Name,Last Name,Email"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(sources) == 0 || len(targets) == 0 {
				return fmt.Errorf("--source and --target are required")
			}
			out := struct {
				Transformations []detector.Detection  `json:"transformations"`
				Mappings        []detector.Suggestion `json:"mappings"`
			}{
				Transformations: detector.Detect(sources, targets),
				Mappings:        detector.SuggestMappings(sources, targets),
			}
			if out.Transformations == nil {
				out.Transformations = []detector.Detection{}
			}
			if out.Mappings == nil {
				out.Mappings = []detector.Suggestion{}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source column names (comma separated)")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "target column names (comma separated)")
	return cmd
}

func newTransformCmd() *cobra.Command {
	var (
		row     map[string]string
		sources []string
		cfgPath string
	)
	cmd := &cobra.Command{
		Use:     "transform",
		Short:   "Apply one transformation config to one row",
		Example: `  csvmerge transform --row "Full Name=Ada Lovelace" --source "Full Name" --config split.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgPath == "" {
				return fmt.Errorf("--config is required")
			}
			raw, err := os.ReadFile(cfgPath)
			if err != nil {
				return fmt.Errorf("read transformation: %w", err)
			}
			var spec transformer.Spec
			if err := json.Unmarshal(raw, &spec); err != nil {
				return fmt.Errorf("decode transformation %s: %w", cfgPath, err)
			}
			out, err := builtin.NewEngine().Transform(records.Row(row), sources, spec.Config)
			if err != nil {
				return err
			}
			if out == nil {
				out = records.Row{}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringToStringVar(&row, "row", nil, "source row as column=value pairs")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source columns the transformation reads")
	cmd.Flags().StringVar(&cfgPath, "config", "", `transformation JSON ({"type": ..., "config": {...}})`)
	return cmd
}

func newProfileCmd() *cobra.Command {
	var (
		kind   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "profile <file>",
		Short: "Infer column types, null counts and samples of one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(cmd, args[0], kind, nil)
			if err != nil {
				return err
			}
			p := probe.Profile(t)
			if asJSON {
				return printJSON(cmd.OutOrStdout(), p)
			}
			return probe.Render(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "file kind (csv, tsv, json, html); default from extension")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the profile as JSON")
	return cmd
}

// readTable parses one local file. Row-level parse errors are reported on
// stderr and skipped.
func readTable(cmd *cobra.Command, path, kind string, opts config.Options) (records.Table, error) {
	k, err := parser.ParseKind(kind, path)
	if err != nil {
		return records.Table{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return records.Table{}, err
	}
	defer f.Close()

	name := filepath.Base(path)
	t, err := parser.Read(cmd.Context(), k, f, opts, func(line int, err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s:%d: %v\n", name, line, err)
	})
	if err != nil {
		return records.Table{}, fmt.Errorf("read %s: %w", name, err)
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
