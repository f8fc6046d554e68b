package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/JakeFAU/corpus-crawler/internal/hash/sha256"
	"github.com/JakeFAU/corpus-crawler/internal/store"
)

// ValidationResult reports on one shard file.
type ValidationResult struct {
	Path       string   `json:"path"`
	Valid      bool     `json:"valid"`
	EntryCount int      `json:"entry_count"`
	FileSize   int64    `json:"file_size"`
	Checksum   string   `json:"checksum"`
	Errors     []string `json:"errors,omitempty"`
}

const maxReportedErrors = 20

var requiredFields = []string{"id", "text", "meta", "content_info"}

// Validate re-reads a shard: checksum, per-line JSON shape, text length, and
// the recorded checksum when the shard is known to the store.
func (m *ShardManager) Validate(ctx context.Context, path string, minLength int) (ValidationResult, error) {
	res := ValidationResult{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		return res, fmt.Errorf("stat shard: %w", err)
	}
	res.FileSize = info.Size()
	res.Checksum, _, err = sha256.File(path)
	if err != nil {
		return res, err
	}

	f, err := os.Open(path) //nolint:gosec // operator supplied shard path
	if err != nil {
		return res, fmt.Errorf("open shard: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		res.EntryCount++
		if msg := checkLine(scanner.Bytes(), minLength); msg != "" {
			res.addError(fmt.Sprintf("line %d: %s", lineNo, msg))
		}
	}
	if err := scanner.Err(); err != nil {
		res.addError("read: " + err.Error())
	}

	if m != nil && m.store != nil {
		row, err := m.store.GetShard(ctx, filepath.Base(path))
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return res, fmt.Errorf("load shard record: %w", err)
		case row.Checksum != "" && row.Checksum != res.Checksum:
			res.addError(fmt.Sprintf("checksum mismatch: recorded %s", row.Checksum))
		}
	}
	res.Valid = len(res.Errors) == 0
	return res, nil
}

func (r *ValidationResult) addError(msg string) {
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

func checkLine(line []byte, minLength int) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return "invalid json: " + err.Error()
	}
	for _, k := range requiredFields {
		if _, ok := fields[k]; !ok {
			return "missing field " + k
		}
	}
	var text string
	if err := json.Unmarshal(fields["text"], &text); err != nil {
		return "text is not a string"
	}
	if n := utf8.RuneCountInString(text); n < minLength {
		return fmt.Sprintf("text length %d below %d", n, minLength)
	}
	return ""
}
