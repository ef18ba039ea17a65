package eval

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/datastation/internal/state"
)

func parseLiteral(kind state.LiteralType, content string) (any, error) {
	switch kind {
	case state.LiteralCSV, "":
		return parseCSV(content)
	case state.LiteralJSON:
		var value any
		if err := json.Unmarshal([]byte(content), &value); err != nil {
			return nil, fmt.Errorf("literal: invalid json: %w", err)
		}
		return value, nil
	case state.LiteralYAML:
		var value any
		if err := yaml.Unmarshal([]byte(content), &value); err != nil {
			return nil, fmt.Errorf("literal: invalid yaml: %w", err)
		}
		return jsonShape(value)
	default:
		return nil, fmt.Errorf("literal: unsupported type %q", kind)
	}
}

// parseCSV reads a header row followed by records. Values stay strings.
func parseCSV(content string) ([]map[string]any, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err == io.EOF {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	rows := []map[string]any{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// jsonShape converts decoded YAML into the types encoding/json produces so
// results serialize the same regardless of source.
func jsonShape(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("literal: yaml value is not representable as json: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toRows(value any) ([]map[string]any, error) {
	switch v := value.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for i, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row %d is %T, not an object", i, item)
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("result is %T, expected an array of objects", value)
	}
}

// selectColumns keeps only the configured fields, keyed by field name. With
// no columns configured every field is kept.
func selectColumns(rows []map[string]any, columns []state.TableColumn) []map[string]any {
	if len(columns) == 0 {
		return rows
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		picked := make(map[string]any, len(columns))
		for _, column := range columns {
			picked[column.Field] = row[column.Field]
		}
		out[i] = picked
	}
	return out
}

func graphSeries(rows []map[string]any, graph *state.GraphPanel) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = map[string]any{
			"x": row[graph.X],
			"y": row[graph.Y.Field],
		}
	}
	return out
}
