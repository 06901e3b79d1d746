package sampleindex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrEmptyManifest is returned when a manifest holds no entries.
var ErrEmptyManifest = errors.New("sampleindex: manifest has no entries")

// Entry is one dataset item. Immutable once loaded.
type Entry struct {
	// Path is the media location, already joined with the root folder.
	Path string

	// Start is the optional middle field. Depending on the source kind it is a
	// start frame (fixed offset) or the number of available frames (jitter).
	Start    int
	HasStart bool

	Labels []int

	// Line is the 1-based manifest line, kept for diagnostics.
	Line int

	// Sequence groups frames of the same sequence (the directory of Path).
	Sequence string
}

// ParseOptions controls manifest interpretation.
type ParseOptions struct {
	// RootFolder is prefixed to relative paths.
	RootFolder string

	// RequireStart rejects lines without the middle start field.
	RequireStart bool
}

// ManifestError identifies the offending file and line of a configuration error.
type ManifestError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *ManifestError) Error() string {
	loc := e.Path
	if loc == "" {
		loc = "<manifest>"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if e.Err != nil {
		return fmt.Sprintf("sampleindex: %s: %s: %v", loc, e.Reason, e.Err)
	}
	return fmt.Sprintf("sampleindex: %s: %s", loc, e.Reason)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string, opts ParseOptions) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Reason: "cannot open manifest", Err: err}
	}
	defer f.Close()

	entries, err := ParseManifest(f, opts)
	if err != nil {
		var me *ManifestError
		if errors.As(err, &me) {
			me.Path = path
		}
		return nil, err
	}

	slog.Info("sampleindex: manifest loaded",
		"path", path,
		"entries", len(entries),
		"labels_per_entry", len(entries[0].Labels),
	)
	return entries, nil
}

// ParseManifest parses whitespace-delimited lines of the form
//
//	path [start_frame] label[,label...]
//
// Blank lines and lines starting with '#' are skipped. Label tokens go through
// a permissive atoi-style parser: "7x" yields 7 and "abc" yields 0. That keeps
// existing manifests loading; it does not validate labels.
func ParseManifest(r io.Reader, opts ParseOptions) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		entry := Entry{Line: lineNo}

		var labelField string
		switch len(fields) {
		case 2:
			if opts.RequireStart {
				return nil, &ManifestError{Line: lineNo, Reason: "missing start field"}
			}
			labelField = fields[1]
		case 3:
			start, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, &ManifestError{Line: lineNo, Reason: fmt.Sprintf("start field %q is not an integer", fields[1])}
			}
			entry.Start = start
			entry.HasStart = true
			labelField = fields[2]
		default:
			return nil, &ManifestError{Line: lineNo, Reason: fmt.Sprintf("expected 2 or 3 fields, got %d", len(fields))}
		}

		entry.Path = fields[0]
		if opts.RootFolder != "" && !filepath.IsAbs(entry.Path) {
			entry.Path = filepath.Join(opts.RootFolder, entry.Path)
		}
		entry.Sequence = filepath.Dir(entry.Path)

		for _, tok := range strings.Split(labelField, ",") {
			entry.Labels = append(entry.Labels, PermissiveAtoi(tok))
		}

		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ManifestError{Line: lineNo, Reason: "read failed", Err: err}
	}

	if len(entries) == 0 {
		return nil, &ManifestError{Reason: "no entries", Err: ErrEmptyManifest}
	}
	return entries, nil
}

// CheckLabelCount verifies every entry carries the same number of labels and
// returns that number. The label tensor shape is fixed at setup from it.
func CheckLabelCount(entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, ErrEmptyManifest
	}
	n := len(entries[0].Labels)
	for _, e := range entries[1:] {
		if len(e.Labels) != n {
			return 0, &ManifestError{
				Line:   e.Line,
				Reason: fmt.Sprintf("entry has %d labels, first entry has %d", len(e.Labels), n),
			}
		}
	}
	return n, nil
}

// PermissiveAtoi mirrors C atoi: optional leading whitespace and sign, then
// digits up to the first non-digit. Anything unparseable is 0. Values are
// clamped to the int32 range.
func PermissiveAtoi(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' || s[i] == '\v' || s[i] == '\f') {
		i++
	}

	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}

	var n int64
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int64(s[i]-'0')
		if n > math.MaxInt32+1 {
			n = math.MaxInt32 + 1
		}
	}

	if neg {
		n = -n
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return int(n)
}
