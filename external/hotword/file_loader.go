package hotword

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/foxseedlab/emasr/internal/hotword"
)

// FileLoader reads a UTF-8 hotword file with one hotword per line.
type FileLoader struct {
	defaultWeight int32
}

func NewFileLoader(defaultWeight int32) hotword.Loader {
	return &FileLoader{defaultWeight: defaultWeight}
}

// Load returns an empty table and a *hotword.LoadWarning when the file is
// missing or unreadable. Other failures are never reported.
func (l *FileLoader) Load(path string) (*hotword.Table, error) {
	if path == "" {
		return hotword.Empty(), &hotword.LoadWarning{Path: path, Err: fmt.Errorf("no hotword path configured")}
	}
	f, err := os.Open(path)
	if err != nil {
		return hotword.Empty(), &hotword.LoadWarning{Path: path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	var entries []hotword.Entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		entry, ok, err := hotword.ParseLine(scanner.Text(), l.defaultWeight)
		if err != nil {
			slog.Warn("skipping hotword line", "path", path, "line", lineNo, "error", err)
			continue
		}
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return hotword.Empty(), &hotword.LoadWarning{Path: path, Err: err}
	}
	return hotword.NewTable(entries), nil
}
