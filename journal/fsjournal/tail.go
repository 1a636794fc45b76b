package fsjournal

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/icza/backscanner"
	"golang.org/x/xerrors"
)

// Entry is a journal line as read back from disk
type Entry struct {
	System    string
	Event     string
	Timestamp string
	Data      json.RawMessage
}

// Tail returns up to n of the most recent entries of the current journal file
// in dir, oldest first. Lines that do not decode are skipped.
func Tail(dir string, n int) ([]Entry, error) {
	f, err := os.Open(filepath.Join(dir, CurrentFile))
	if err != nil {
		return nil, xerrors.Errorf("opening journal: %w", err)
	}
	defer f.Close() //nolint:errcheck

	st, err := f.Stat()
	if err != nil {
		return nil, xerrors.Errorf("reading journal size: %w", err)
	}

	scan := backscanner.New(f, int(st.Size()))
	var out []Entry
	for len(out) < n {
		line, _, err := scan.LineBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("reading journal: %w", err)
		}
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			log.Debugw("skipping undecodable journal line", "err", err)
			continue
		}
		out = append(out, e)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
