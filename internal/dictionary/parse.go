// parse.go - Dictionary source formats

package dictionary

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

var headerNames = map[string]bool{"name": true, "test name": true, "testname": true, "parameter": true}

// ParseNames reads a JSON array of strings (or of objects with a "name" field) or a
// tab-delimited file with the name in the given zero-based column.
func ParseNames(data []byte, column int) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		return parseJSONNames(trimmed)
	}
	return parseDelimitedNames(trimmed, column)
}

func parseJSONNames(data []byte) ([]string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary JSON: %w", err)
	}

	names := make([]string, 0, len(raw))
	for i, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			names = append(names, s)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, fmt.Errorf("dictionary entry %d is neither a string nor an object with name: %w", i, err)
		}
		names = append(names, obj.Name)
	}
	return names, nil
}

func parseDelimitedNames(data []byte, column int) ([]string, error) {
	if column < 0 {
		return nil, fmt.Errorf("invalid dictionary column %d", column)
	}

	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if column >= len(cols) {
			continue
		}
		name := strings.TrimSpace(cols[column])
		if first {
			first = false
			if headerNames[strings.ToLower(name)] {
				continue
			}
		}
		names = append(names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dictionary rows: %w", err)
	}
	return names, nil
}
