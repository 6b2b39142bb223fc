package index

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

// FileSource reads a JSON-lines changelog file, one Event per line. The
// cursor is the number of lines already consumed, so appending to the file
// and refreshing picks up only the new lines.
//
// FileSource is authoritative: Fetch never adds crates that are not in the
// file.
type FileSource struct {
	Path string
}

// NewFileSource returns a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Changes implements Source.
func (f *FileSource) Changes(ctx context.Context, cursor string) (Changelog, error) {
	if err := ctx.Err(); err != nil {
		return Changelog{}, err
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return Changelog{}, fmt.Errorf("invalid changelog cursor %q", cursor)
		}
		offset = n
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Changelog{}, fmt.Errorf("read changelog: %w", err)
	}
	events, lines, err := ParseChangelog(data, offset)
	if err != nil {
		return Changelog{}, err
	}
	if lines < offset {
		return Changelog{}, fmt.Errorf("changelog %s shrank from %d to %d lines", f.Path, offset, lines)
	}
	return Changelog{Events: events, Cursor: strconv.Itoa(lines)}, nil
}

// Fetch implements Source.
func (f *FileSource) Fetch(context.Context, []string) ([]Event, error) {
	return nil, nil
}

// ParseChangelog decodes JSON-lines events, skipping the first skip lines.
// Blank lines count toward the line total but carry no event. It returns
// the events and the total number of complete lines; a trailing line
// without a newline is left for the next read.
func ParseChangelog(data []byte, skip int) ([]Event, int, error) {
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		data = nil
	}

	var events []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if line <= skip {
			continue
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, 0, fmt.Errorf("changelog line %d: %w", line, err)
		}
		if ev.Crate == "" {
			return nil, 0, fmt.Errorf("changelog line %d: missing crate", line)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	return events, line, nil
}

// WriteChangelog encodes events as JSON lines, the format FileSource
// reads.
func WriteChangelog(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encode %s@%s: %w", events[i].Crate, events[i].Version, err)
		}
	}
	return nil
}

// AppendChangelog appends events to the changelog file at path, creating
// it if needed.
func AppendChangelog(path string, events []Event) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteChangelog(bw, events); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
