package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/danthegoodman1/kvsql/table"
)

var (
	ErrNotObject  = errors.New("line was not a JSON object")
	ErrNotFlatMap = errors.New("not a flat map")
)

// ParseNDJSON decodes one object per non-blank line. Numbers stay
// json.Number so large integers load exactly.
func ParseNDJSON(r io.Reader) ([]map[string]any, error) {
	var maps []map[string]any
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		d := json.NewDecoder(bytes.NewReader(raw))
		d.UseNumber()
		var v any
		if err := d.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: error in json.Decode: %w", line, err)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("line %d: %w", line, ErrNotObject)
		}
		maps = append(maps, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ndjson: %w", err)
	}
	return maps, nil
}

// FlattenRows turns JSON objects into rows, nested objects becoming
// flattened column names.
func FlattenRows(maps []map[string]any) ([]table.Row, error) {
	rows := make([]table.Row, 0, len(maps))
	for _, jsonMap := range maps {
		flat, err := gojsonutils.Flatten(jsonMap, nil)
		if err != nil {
			return nil, fmt.Errorf("error flattening JSON map: %w", err)
		}
		flatMap, ok := flat.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %+v", ErrNotFlatMap, flat)
		}
		rows = append(rows, table.RowFromMap(flatMap))
	}
	return rows, nil
}
