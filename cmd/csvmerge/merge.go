package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"

	"csvmerge/internal/config"
	"csvmerge/internal/merge"
	"csvmerge/internal/metrics"
	"csvmerge/internal/output"
	"csvmerge/internal/transformer/builtin"
)

func newValidateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a job file without reading any input",
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := config.LoadJob(cfgPath)
			if err != nil {
				return err
			}
			if err := reportIssues(cmd, cfgPath, config.ValidateJob(j)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "job.json", "job config JSON path")
	return cmd
}

// reportIssues prints every issue on stderr and fails if any is an error.
func reportIssues(cmd *cobra.Command, path string, issues []config.Issue) error {
	for _, iss := range issues {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid: %s", path)
	}
	return nil
}

func newMergeCmd(a *app) *cobra.Command {
	var (
		cfgPath    string
		outPath    string
		noProgress bool
	)
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge the files of a job file into one CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			logger := a.logger()

			j, err := config.LoadJob(cfgPath)
			if err != nil {
				return err
			}
			if err := reportIssues(cmd, cfgPath, config.ValidateJob(j)); err != nil {
				return err
			}

			inputs := make([]merge.FileRows, 0, len(j.Files))
			skipped := 0
			for _, f := range j.Files {
				t, err := readTable(cmd, f.Path, f.Kind, f.Options)
				if err != nil {
					if cmd.Context().Err() != nil {
						return err
					}
					skipped++
					metrics.RecordFile("failed")
					logger.Printf("stage=read file=%s status=skipped err=%v", f.Path, err)
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipped %s: %v\n", f.Path, err)
					continue
				}
				logger.Printf("stage=read file=%s columns=%d rows=%d", f.Path, len(t.Columns), len(t.Rows))
				inputs = append(inputs, merge.FileRows{
					Name:          filepath.Base(f.Path),
					SourceColumns: t.Columns,
					Rows:          t.Rows,
					Mappings:      f.Mappings,
				})
			}

			if len(inputs) == 0 {
				metrics.RecordJob("failed")
				return fmt.Errorf("no readable input file in %s", cfgPath)
			}

			m := &merge.Merger{Engine: builtin.NewEngine(), Logger: logger, Workers: j.Runtime.Workers}
			if !noProgress {
				uiprogress.Start()
				bar := uiprogress.AddBar(len(inputs)).AppendCompleted().PrependElapsed()
				bar.PrependFunc(func(b *uiprogress.Bar) string {
					return "Merging: "
				})
				m.Progress = func(string, int) { bar.Incr() }
			}
			res, err := m.Merge(cmd.Context(), j.Schema, inputs)
			if !noProgress {
				uiprogress.Stop()
			}
			if err != nil {
				metrics.RecordJob("failed")
				return err
			}

			dest := outPath
			if dest == "" {
				dest = j.Output.Path
			}
			if dest == "" {
				name := j.Job
				if name == "" {
					name = "csvmerge"
				}
				dest = output.FileName(name, time.Now())
			}
			if err := writeOutput(dest, res); err != nil {
				metrics.RecordJob("failed")
				return err
			}
			metrics.RecordJob("completed")

			s := res.Summary
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: files=%d files_skipped=%d rows=%d cells_defaulted=%d degraded=%t elapsed=%s\n",
				dest, s.Files, skipped, s.Rows, s.CellsDefaulted, s.Degraded || skipped > 0, time.Since(start).Truncate(time.Millisecond))
			for _, is := range s.Issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", is.Error())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "job.json", "job config JSON path")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output CSV path (default output.path or <job>_merged_<date>.csv)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	return cmd
}

func writeOutput(path string, res *merge.Result) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := output.WriteCSV(f, res.Table()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
