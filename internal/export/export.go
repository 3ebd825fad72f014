// Package export writes Farm Data result payloads to JSON, CSV and XLSX files.
package export

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/rotisserie/eris"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ErrNotTabular is returned when a payload cannot be laid out as rows.
var ErrNotTabular = eris.New("payload is not an array of objects")

// ParseFormat normalizes a format name.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("export: unsupported format %q (want json, csv or xlsx)", s)
	}
}

// DefaultFilename is the file a result is saved to when no path is given.
func DefaultFilename(requestID, format string) string {
	return "response_" + requestID + "." + format
}

// Write renders payload in the given format.
func Write(w io.Writer, payload json.RawMessage, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, payload)
	case FormatCSV:
		t, err := NewTable(payload)
		if err != nil {
			return err
		}
		return writeCSV(w, t)
	case FormatXLSX:
		t, err := NewTable(payload)
		if err != nil {
			return err
		}
		return writeXLSX(w, t)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

// WriteFile renders payload to path atomically, creating parent directories.
func WriteFile(path string, payload json.RawMessage, format string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create dir %s", dir)
		}
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return eris.Wrapf(err, "export: open %s", path)
	}
	defer pf.Cleanup() //nolint:errcheck

	if err := Write(pf, payload, format); err != nil {
		return err
	}
	return eris.Wrapf(pf.CloseAtomicallyReplace(), "export: replace %s", path)
}

func writeJSON(w io.Writer, payload json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "    "); err != nil {
		return eris.Wrap(err, "export: indent json")
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return eris.Wrap(err, "export: write json")
}

// Table is a payload flattened into a header and rows of JSON values.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// NewTable lays out payload as rows. The payload must be an array of
// objects, or an object with exactly one array member; a plain object
// becomes a single row. Columns are the sorted union of row keys.
func NewTable(payload json.RawMessage) (*Table, error) {
	v, err := decode(payload)
	if err != nil {
		return nil, err
	}

	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case map[string]any:
		items = []any{x}
		var found []any
		arrays := 0
		for _, member := range x {
			if arr, ok := member.([]any); ok {
				arrays++
				found = arr
			}
		}
		if arrays == 1 {
			items = found
		}
	default:
		return nil, ErrNotTabular
	}

	t := &Table{}
	seen := make(map[string]bool)
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			return nil, ErrNotTabular
		}
		for k := range row {
			if !seen[k] {
				seen[k] = true
				t.Columns = append(t.Columns, k)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	sort.Strings(t.Columns)
	return t, nil
}

func decode(payload json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, eris.Wrap(err, "export: decode payload")
	}
	return v, nil
}

// cellText renders a JSON value as cell text. Nested values stay JSON.
func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
