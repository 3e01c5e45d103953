package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"csvmerge/internal/merge"
)

// Job is a local merge run as decoded from a job JSON file.
type Job struct {
	Job     string               `json:"job"`
	Schema  []merge.SchemaColumn `json:"schema"`
	Files   []File               `json:"files"`
	Output  Output               `json:"output"`
	Runtime Runtime              `json:"runtime"`
}

// File is one source file and the mappings that apply to it. Kind may be
// empty, in which case it is derived from the file extension.
type File struct {
	Path     string                `json:"path"`
	Kind     string                `json:"kind,omitempty"`
	Options  Options               `json:"options,omitempty"`
	Mappings []merge.ColumnMapping `json:"mappings"`
}

type Output struct {
	Path string `json:"path"`
}

type Runtime struct {
	Workers int `json:"workers"`
}

// Severity levels for validation issues. Only errors stop a run.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one validation finding. Path points into the job document,
// e.g. "files[1].mappings[0].target_column".
type Issue struct {
	Severity string
	Path     string
	Message  string
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// LoadJob reads and decodes a job file. It does not validate it.
func LoadJob(path string) (Job, error) {
	var j Job
	f, err := os.Open(path)
	if err != nil {
		return j, fmt.Errorf("open job config: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&j); err != nil {
		return j, fmt.Errorf("decode job config %s: %w", path, err)
	}
	return j, nil
}

// File kinds the readers understand. Kept in sync with internal/parser.
var knownKinds = map[string]bool{"csv": true, "tsv": true, "json": true, "html": true}

// ValidateJob checks a job before any file is opened.
func ValidateJob(j Job) []Issue {
	var issues []Issue
	add := func(sev, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(j.Job) == "" {
		add(SeverityWarning, "job", "job name is empty; output and metrics use %q", "csvmerge")
	}

	schema := map[string]bool{}
	if len(j.Schema) == 0 {
		add(SeverityError, "schema", "schema has no columns")
	}
	positions := map[int]string{}
	for i, c := range j.Schema {
		p := fmt.Sprintf("schema[%d]", i)
		if strings.TrimSpace(c.Name) == "" {
			add(SeverityError, p+".name", "column name is empty")
			continue
		}
		if schema[c.Name] {
			add(SeverityError, p+".name", "duplicate column %q", c.Name)
		}
		schema[c.Name] = true
		if other, ok := positions[c.Position]; ok {
			add(SeverityError, p+".position", "position %d already used by %q", c.Position, other)
		} else {
			positions[c.Position] = c.Name
		}
	}

	if len(j.Files) == 0 {
		add(SeverityError, "files", "no input files")
	}
	for i, f := range j.Files {
		fp := fmt.Sprintf("files[%d]", i)
		if strings.TrimSpace(f.Path) == "" {
			add(SeverityError, fp+".path", "path is empty")
		}
		if f.Kind != "" && !knownKinds[strings.ToLower(f.Kind)] {
			add(SeverityError, fp+".kind", "unsupported kind %q", f.Kind)
		}
		if len(f.Mappings) == 0 {
			add(SeverityWarning, fp+".mappings", "no mappings; the file contributes empty rows")
		}

		targets := map[string]bool{}
		for k, m := range f.Mappings {
			mp := fmt.Sprintf("%s.mappings[%d]", fp, k)
			if m.TargetColumn == "" {
				add(SeverityError, mp+".target_column", "target column is empty")
				continue
			}
			if targets[m.TargetColumn] {
				add(SeverityError, mp+".target_column", "second mapping for %q", m.TargetColumn)
			}
			targets[m.TargetColumn] = true
			if len(schema) > 0 && !schema[m.TargetColumn] {
				add(SeverityWarning, mp+".target_column", "%q is not in the schema; mapping ignored", m.TargetColumn)
			}
			validateMapping(m, mp, add)
		}
	}

	if j.Output.Path == "" {
		add(SeverityWarning, "output.path", "no output path; writing <schema>_merged_<date>.csv in the working directory")
	}
	if j.Runtime.Workers < 0 {
		add(SeverityError, "runtime.workers", "workers must be >= 0")
	}
	return issues
}

func validateMapping(m merge.ColumnMapping, path string, add func(sev, path, format string, args ...any)) {
	if err := merge.CheckMapping(m); err != nil {
		add(SeverityError, path, "%v", err)
	}
}
