package migration

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// Filename grammar: [VRS]<version>__<description>.sql. The version group's
// middle position is deliberately any character, so both V001 and V1.5 match.
var (
	migrationPattern = regexp.MustCompile(`^V(\d*.\d*)__(.+)\.sql$`)
	rollbackPattern  = regexp.MustCompile(`^R(\d*.\d*)__(.+)\.sql$`)
	seedPattern      = regexp.MustCompile(`^S(\d*.\d*)__(.+)\.sql$`)
)

// dangerousOps trigger a warning when used outside an explicit transaction.
var dangerousOps = []string{"drop table", "drop database", "truncate"}

// ValidationError is returned when a script set cannot be used because the
// loader recorded one or more errors.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "migration validation failed"
	}
	return fmt.Sprintf("migration validation failed: %s", strings.Join(e.Errors, "; "))
}

// Loader reads a migrations directory into a ScriptSet, collecting validation
// errors and warnings along the way. Warnings never block execution; any error
// makes the set unusable.
type Loader struct {
	fs     afero.Fs
	dir    string
	logger hclog.Logger

	errors   []string
	warnings []string
}

// NewLoader creates a loader for the given directory. A nil fs defaults to the
// OS filesystem.
func NewLoader(fs afero.Fs, dir string, logger hclog.Logger) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Loader{
		fs:     fs,
		dir:    dir,
		logger: logger.Named("script-loader"),
	}
}

// Errors returns the errors recorded by the last Load.
func (l *Loader) Errors() []string { return l.errors }

// Warnings returns the warnings recorded by the last Load.
func (l *Loader) Warnings() []string { return l.warnings }

// Valid reports whether the last Load recorded no errors.
func (l *Loader) Valid() bool { return len(l.errors) == 0 }

// Load enumerates *.sql files in the directory, parses and validates each, and
// returns the resulting ScriptSet sorted by filename. Files that match no
// naming pattern are skipped with a warning; unreadable files and version
// conflicts are errors.
func (l *Loader) Load() ScriptSet {
	l.errors = nil
	l.warnings = nil

	if !l.checkDirectory() {
		return nil
	}

	names, err := l.sqlFiles()
	if err != nil {
		l.errors = append(l.errors, fmt.Sprintf("failed to list migrations directory: %v", err))
		return nil
	}
	if len(names) == 0 {
		l.warnings = append(l.warnings, "No .sql files found in migrations directory")
		return nil
	}

	var scripts ScriptSet
	for _, name := range names {
		kind, version, desc, ok := parseScriptFilename(name)
		if !ok {
			l.warnings = append(l.warnings, fmt.Sprintf(
				"%s: Filename doesn't match expected pattern "+
					"(V###__description.sql, R###__description.sql, or S###__description.sql)", name))
			continue
		}

		content, err := afero.ReadFile(l.fs, filepath.Join(l.dir, name))
		if err != nil {
			l.errors = append(l.errors, fmt.Sprintf("%s: Failed to read file: %v", name, err))
			continue
		}

		script := Script{
			Filename:    name,
			Version:     version,
			Description: strings.ReplaceAll(desc, "_", " "),
			Kind:        kind,
			Content:     string(content),
		}
		l.validateContent(script)
		scripts = append(scripts, script)

		l.logger.Debug("loaded script", "filename", name, "kind", kind, "version", version)
	}

	l.checkVersionConflicts(scripts)
	return scripts
}

// checkDirectory validates the migrations path before enumeration.
func (l *Loader) checkDirectory() bool {
	info, err := l.fs.Stat(l.dir)
	if err != nil {
		l.errors = append(l.errors, fmt.Sprintf("Migrations directory does not exist: %s", l.dir))
		return false
	}
	if !info.IsDir() {
		l.errors = append(l.errors, fmt.Sprintf("Migrations directory is not a directory: %s", l.dir))
		return false
	}
	return true
}

// sqlFiles returns the sorted *.sql filenames in the directory.
func (l *Loader) sqlFiles() ([]string, error) {
	entries, err := afero.ReadDir(l.fs, l.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func parseScriptFilename(name string) (ScriptKind, string, string, bool) {
	if m := migrationPattern.FindStringSubmatch(name); m != nil {
		return KindMigration, m[1], m[2], true
	}
	if m := rollbackPattern.FindStringSubmatch(name); m != nil {
		return KindRollback, m[1], m[2], true
	}
	if m := seedPattern.FindStringSubmatch(name); m != nil {
		return KindSeed, m[1], m[2], true
	}
	return "", "", "", false
}

// validateContent records content-level findings for one script: empty content
// is an error, a missing trailing semicolon and dangerous operations without an
// explicit transaction are warnings.
func (l *Loader) validateContent(script Script) {
	trimmed := strings.TrimSpace(script.Content)
	if trimmed == "" {
		l.errors = append(l.errors, fmt.Sprintf("%s: Script is empty", script.Filename))
		return
	}

	if !strings.HasSuffix(trimmed, ";") {
		l.warnings = append(l.warnings, fmt.Sprintf("%s: Missing semicolon at end of script", script.Filename))
	}

	lower := strings.ToLower(script.Content)
	for _, op := range dangerousOps {
		if strings.Contains(lower, op) {
			if !strings.Contains(lower, "begin") || !strings.Contains(lower, "commit") {
				l.warnings = append(l.warnings, fmt.Sprintf(
					"%s: Dangerous operation without explicit transaction", script.Filename))
			}
			break
		}
	}
}

// checkVersionConflicts records an error for every duplicate (kind, version)
// pair in the set.
func (l *Loader) checkVersionConflicts(scripts ScriptSet) {
	type key struct {
		kind    ScriptKind
		version string
	}
	seen := make(map[key]string, len(scripts))
	for _, s := range scripts {
		k := key{s.Kind, s.Version}
		if first, ok := seen[k]; ok {
			l.errors = append(l.errors, fmt.Sprintf(
				"Version conflict: %s and %s both use version %s", s.Filename, first, s.Version))
		} else {
			seen[k] = s.Filename
		}
	}
}

// Report renders a human-readable validation report.
func (l *Loader) Report() string {
	divider := strings.Repeat("=", 60)
	lines := []string{divider, "MIGRATION VALIDATION REPORT", divider}

	if len(l.errors) > 0 {
		lines = append(lines, fmt.Sprintf("\nERRORS (%d):", len(l.errors)))
		for _, e := range l.errors {
			lines = append(lines, "  - "+e)
		}
	}
	if len(l.warnings) > 0 {
		lines = append(lines, fmt.Sprintf("\nWARNINGS (%d):", len(l.warnings)))
		for _, w := range l.warnings {
			lines = append(lines, "  - "+w)
		}
	}
	if len(l.errors) == 0 && len(l.warnings) == 0 {
		lines = append(lines, "\nAll validations passed!")
	}

	lines = append(lines, divider)
	return strings.Join(lines, "\n")
}
