package state

import (
	"encoding/json"
	"fmt"
)

// PanelType discriminates the panel variants.
type PanelType string

const (
	PanelTable   PanelType = "table"
	PanelHTTP    PanelType = "http"
	PanelGraph   PanelType = "graph"
	PanelProgram PanelType = "program"
	PanelLiteral PanelType = "literal"
	PanelSQL     PanelType = "sql"
)

// PanelTypes lists every known panel type.
var PanelTypes = []PanelType{PanelTable, PanelHTTP, PanelGraph, PanelProgram, PanelLiteral, PanelSQL}

// Panel is a single computation unit. Exactly one payload pointer, the one
// named after Type, is set.
type Panel struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Type    PanelType `json:"type"`
	Content string    `json:"content"`

	Table   *TablePanel   `json:"table,omitempty"`
	HTTP    *HTTPPanel    `json:"http,omitempty"`
	Graph   *GraphPanel   `json:"graph,omitempty"`
	Program *ProgramPanel `json:"program,omitempty"`
	Literal *LiteralPanel `json:"literal,omitempty"`
	SQL     *SQLPanel     `json:"sql,omitempty"`
}

// TableColumn selects one field of the source rows.
type TableColumn struct {
	Label string `json:"label"`
	Field string `json:"field"`
}

// TablePanel renders rows of an earlier panel.
type TablePanel struct {
	PanelSource int           `json:"panelSource"`
	Columns     []TableColumn `json:"columns"`
}

// GraphY names the value series of a graph.
type GraphY struct {
	Field string `json:"field"`
	Label string `json:"label"`
}

// GraphType is the chart kind.
type GraphType string

const GraphBar GraphType = "bar"

// GraphPanel charts rows of an earlier panel.
type GraphPanel struct {
	PanelSource int       `json:"panelSource"`
	X           string    `json:"x"`
	Y           GraphY    `json:"y"`
	Type        GraphType `json:"type"`
}

// ProgramPanel runs Content in the named language.
type ProgramPanel struct {
	Type string `json:"type"`
}

// LiteralType selects how literal content is parsed.
type LiteralType string

const (
	LiteralCSV  LiteralType = "csv"
	LiteralJSON LiteralType = "json"
	LiteralYAML LiteralType = "yaml"
)

// LiteralPanel holds inline data.
type LiteralPanel struct {
	Type LiteralType `json:"type"`
}

// SQLPanel runs Content against a database. ConnectorID, when set, points at a
// project connector whose settings take precedence over the inline ones.
type SQLPanel struct {
	ConnectorID string `json:"connectorId,omitempty"`
	SQLConnection
}

// HTTPPanel fetches Content-less requests described by its connection.
// Format forces how the body is parsed; empty means detect from Content-Type.
type HTTPPanel struct {
	ConnectorID string `json:"connectorId,omitempty"`
	Format      string `json:"format,omitempty"`
	HTTPConnection
}

// NewPanel constructs a panel of the given type with every default filled in.
func NewPanel(t PanelType) Panel {
	p := Panel{ID: NewID(), Type: t}
	switch t {
	case PanelTable:
		p.Table = &TablePanel{Columns: []TableColumn{}}
	case PanelHTTP:
		p.HTTP = &HTTPPanel{HTTPConnection: defaultHTTPConnection()}
	case PanelGraph:
		p.Graph = &GraphPanel{Type: GraphBar}
	case PanelProgram:
		p.Program = &ProgramPanel{Type: "javascript"}
	case PanelLiteral:
		p.Literal = &LiteralPanel{Type: LiteralCSV}
	case PanelSQL:
		p.SQL = &SQLPanel{SQLConnection: defaultSQLConnection()}
	}
	return p
}

// PanelSource returns the index of the panel a table or graph reads from.
func (p *Panel) PanelSource() (int, bool) {
	switch p.Type {
	case PanelTable:
		if p.Table != nil {
			return p.Table.PanelSource, true
		}
	case PanelGraph:
		if p.Graph != nil {
			return p.Graph.PanelSource, true
		}
	}
	return 0, false
}

// UnmarshalJSON upgrades stored panels: the default panel of the declared type
// is built first and the stored fields are decoded over it, so fields added
// after the document was saved get their defaults and saved values are kept.
func (p *Panel) UnmarshalJSON(data []byte) error {
	var head struct {
		Type PanelType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if !knownPanelType(head.Type) {
		return fmt.Errorf("state: unknown panel type %q", head.Type)
	}
	type plain Panel
	defaults := NewPanel(head.Type)
	filled := plain(defaults)
	if err := json.Unmarshal(data, &filled); err != nil {
		return fmt.Errorf("state: decode %s panel: %w", head.Type, err)
	}
	*p = Panel(filled)
	p.backfillPayload(defaults)
	return nil
}

// HasPayload reports whether the payload for the panel's type is set.
func (p *Panel) HasPayload() bool {
	switch p.Type {
	case PanelTable:
		return p.Table != nil
	case PanelHTTP:
		return p.HTTP != nil
	case PanelGraph:
		return p.Graph != nil
	case PanelProgram:
		return p.Program != nil
	case PanelLiteral:
		return p.Literal != nil
	case PanelSQL:
		return p.SQL != nil
	}
	return false
}

// backfillPayload restores payloads an explicit null cleared. Only the
// declared type's payload is non-nil in defaults.
func (p *Panel) backfillPayload(defaults Panel) {
	if p.Table == nil {
		p.Table = defaults.Table
	}
	if p.HTTP == nil {
		p.HTTP = defaults.HTTP
	}
	if p.Graph == nil {
		p.Graph = defaults.Graph
	}
	if p.Program == nil {
		p.Program = defaults.Program
	}
	if p.Literal == nil {
		p.Literal = defaults.Literal
	}
	if p.SQL == nil {
		p.SQL = defaults.SQL
	}
}

func knownPanelType(t PanelType) bool {
	for _, known := range PanelTypes {
		if known == t {
			return true
		}
	}
	return false
}
