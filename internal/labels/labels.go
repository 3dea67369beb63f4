// Package labels maps detector class ids to human-readable labels.
package labels

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var separator = regexp.MustCompile(`[:\s]+`)

// Table is an immutable class id → label mapping
type Table struct {
	labels map[int]string
}

// Load reads a labels file from disk
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels %s: %w", path, err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse labels %s: %w", path, err)
	}
	return t, nil
}

// Parse reads one mapping per line. A line starting with an integer index
// followed by ':' or whitespace maps that index; any other non-empty line
// maps its zero-based line number.
func Parse(r io.Reader) (*Table, error) {
	t := &Table{labels: make(map[int]string)}

	scanner := bufio.NewScanner(r)
	for row := 0; scanner.Scan(); row++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		pair := separator.Split(line, 2)
		if len(pair) == 2 {
			if idx, err := strconv.Atoi(pair[0]); err == nil && idx >= 0 {
				// "3:" names nothing; the id stays unknown
				if label := strings.TrimSpace(pair[1]); label != "" {
					t.labels[idx] = label
				}
				continue
			}
		}
		t.labels[row] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Resolve returns the label for id, or "unknown(<id>)"
func (t *Table) Resolve(id int) string {
	if label, ok := t.labels[id]; ok {
		return label
	}
	return fmt.Sprintf("unknown(%d)", id)
}

// Len returns the number of mapped ids
func (t *Table) Len() int {
	return len(t.labels)
}
