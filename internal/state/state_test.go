package state

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDefaultProjectShape(t *testing.T) {
	p := DefaultProject("sales")
	if p.ProjectName != "sales" {
		t.Fatalf("unexpected name %q", p.ProjectName)
	}
	if len(p.Pages) != 1 || len(p.Pages[0].Panels) != 2 {
		t.Fatalf("expected one page with two panels, got %+v", p.Pages)
	}
	literal := p.Pages[0].Panels[0]
	if literal.Type != PanelLiteral || literal.Literal.Type != LiteralCSV {
		t.Fatalf("first panel should be a csv literal, got %+v", literal)
	}
	graph := p.Pages[0].Panels[1]
	if src, ok := graph.PanelSource(); !ok || src != 0 {
		t.Fatalf("graph should read panel 0, got %d %v", src, ok)
	}
	if graph.Graph.Y.Label != "Age" {
		t.Fatalf("unexpected graph y: %+v", graph.Graph.Y)
	}
}

func TestPanelUnmarshalBackfillsDefaults(t *testing.T) {
	raw := `{"id":"p1","name":"q","type":"sql","content":"select 1","sql":{"database":"db"}}`
	var panel Panel
	if err := json.Unmarshal([]byte(raw), &panel); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if panel.ID != "p1" {
		t.Fatalf("stored id must win, got %q", panel.ID)
	}
	if panel.SQL == nil || panel.SQL.Type != SQLPostgres {
		t.Fatalf("expected default postgres driver, got %+v", panel.SQL)
	}
	if panel.SQL.Database != "db" {
		t.Fatalf("stored database lost, got %q", panel.SQL.Database)
	}
}

func TestPanelUnmarshalRejectsUnknownType(t *testing.T) {
	var panel Panel
	err := json.Unmarshal([]byte(`{"type":"spreadsheet"}`), &panel)
	if err == nil || !strings.Contains(err.Error(), "spreadsheet") {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestConnectorUnmarshalBackfillsHeaders(t *testing.T) {
	var c Connector
	if err := json.Unmarshal([]byte(`{"id":"c1","type":"http","http":{"url":"http://x"}}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.HTTP.Method != "GET" || c.HTTP.Headers == nil {
		t.Fatalf("expected defaults, got %+v", c.HTTP)
	}
	if c.HTTP.URL != "http://x" {
		t.Fatalf("url lost: %q", c.HTTP.URL)
	}
}

func TestSecretAcceptsBareString(t *testing.T) {
	var s Secret
	if err := json.Unmarshal([]byte(`"hunter2"`), &s); err != nil {
		t.Fatal(err)
	}
	if s.String() != "hunter2" || s.Encrypted {
		t.Fatalf("unexpected secret %+v", s)
	}
}

func TestSecretsAndRedacted(t *testing.T) {
	p := DefaultProject("")
	conn := NewConnector(ConnectorSQL)
	conn.SQL.Password = Secret{Value: ptr("cipher"), Encrypted: true}
	p.Connectors = append(p.Connectors, conn)

	sqlPanel := NewPanel(PanelSQL)
	sqlPanel.SQL.Password = PlainSecret("pw")
	p.Pages[0].Panels = append(p.Pages[0].Panels, sqlPanel)

	fields := p.Secrets()
	if len(fields) != 2 {
		t.Fatalf("expected 2 secret fields, got %d", len(fields))
	}
	if got := p.SecretAt("connectors[" + conn.ID + "].sql.password"); got == nil || got.String() != "cipher" {
		t.Fatalf("SecretAt did not find connector password: %+v", got)
	}

	redacted, err := p.Redacted()
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range redacted.Secrets() {
		if field.Secret.Value != nil {
			t.Fatalf("%s not redacted", field.Path)
		}
	}
	if p.Connectors[0].SQL.Password.String() != "cipher" {
		t.Fatalf("redaction must not touch the original")
	}
}

func TestNormalizeFillsNilSlices(t *testing.T) {
	p := &Project{Pages: []Page{{Name: "x"}}}
	p.Normalize()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "null") {
		t.Fatalf("expected no nulls, got %s", data)
	}
	if p.ID == "" || p.Pages[0].ID == "" {
		t.Fatalf("ids should be generated")
	}
}

func ptr(s string) *string { return &s }

func TestExplicitNullPayloadGetsDefault(t *testing.T) {
	var p Panel
	if err := json.Unmarshal([]byte(`{"id":"a","type":"literal","content":"a,b","literal":null}`), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Literal == nil || p.Literal.Type != LiteralCSV {
		t.Fatalf("expected default csv literal payload, got %+v", p.Literal)
	}
	if p.Content != "a,b" {
		t.Fatalf("content lost: %q", p.Content)
	}

	var table Panel
	if err := json.Unmarshal([]byte(`{"type":"table","table":null}`), &table); err != nil {
		t.Fatalf("decode table: %v", err)
	}
	if table.Table == nil || table.Table.Columns == nil {
		t.Fatalf("expected default table payload, got %+v", table.Table)
	}

	var c Connector
	if err := json.Unmarshal([]byte(`{"type":"sql","sql":null}`), &c); err != nil {
		t.Fatalf("decode connector: %v", err)
	}
	if c.SQL == nil {
		t.Fatalf("expected default sql connection")
	}
}
