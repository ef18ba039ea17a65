// Package state defines the project document: pages of panels plus the
// connectors they use. The JSON shape matches what is stored on disk in a
// .dsproj file.
package state

import (
	"fmt"

	"github.com/google/uuid"
)

// Project is the root document persisted as one JSON file.
type Project struct {
	ID          string      `json:"id"`
	ProjectName string      `json:"projectName"`
	Pages       []Page      `json:"pages"`
	Connectors  []Connector `json:"connectors"`
}

// Page is an ordered list of panels; later panels may read earlier ones by index.
type Page struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Panels []Panel `json:"panels"`
}

// NewID returns a fresh UUIDv4 string.
func NewID() string {
	return uuid.NewString()
}

// NewPage builds an empty page with a generated id.
func NewPage(name string, panels ...Panel) Page {
	if name == "" {
		name = "Untitled page"
	}
	if panels == nil {
		panels = []Panel{}
	}
	return Page{ID: NewID(), Name: name, Panels: panels}
}

// DefaultProject is materialized the first time a project file is opened.
func DefaultProject(name string) *Project {
	if name == "" {
		name = "Untitled project"
	}
	literal := NewPanel(PanelLiteral)
	literal.Name = "Raw CSV Text"
	literal.Literal.Type = LiteralCSV
	literal.Content = "name,age\nPhil,12\nJames,17"

	graph := NewPanel(PanelGraph)
	graph.Name = "Display"
	graph.Graph.PanelSource = 0
	graph.Graph.X = "name"
	graph.Graph.Y = GraphY{Field: "age", Label: "Age"}

	return &Project{
		ID:          NewID(),
		ProjectName: name,
		Pages:       []Page{NewPage("Untitled page", literal, graph)},
		Connectors:  []Connector{},
	}
}

// Normalize fills nil slices and missing ids so the document always
// serializes with arrays rather than nulls.
func (p *Project) Normalize() {
	if p == nil {
		return
	}
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.Pages == nil {
		p.Pages = []Page{}
	}
	if p.Connectors == nil {
		p.Connectors = []Connector{}
	}
	for i := range p.Pages {
		if p.Pages[i].ID == "" {
			p.Pages[i].ID = NewID()
		}
		if p.Pages[i].Panels == nil {
			p.Pages[i].Panels = []Panel{}
		}
	}
}

// Page returns the page at index or an error when out of range.
func (p *Project) Page(index int) (*Page, error) {
	if p == nil || index < 0 || index >= len(p.Pages) {
		return nil, fmt.Errorf("state: page %d does not exist", index)
	}
	return &p.Pages[index], nil
}

// PageByID looks a page up by id.
func (p *Project) PageByID(id string) (*Page, int, bool) {
	if p == nil {
		return nil, -1, false
	}
	for i := range p.Pages {
		if p.Pages[i].ID == id {
			return &p.Pages[i], i, true
		}
	}
	return nil, -1, false
}

// Connector returns the connector with the given id.
func (p *Project) Connector(id string) (*Connector, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.Connectors {
		if p.Connectors[i].ID == id {
			return &p.Connectors[i], true
		}
	}
	return nil, false
}

// PanelIDs returns the id of every panel in the project.
func (p *Project) PanelIDs() []string {
	if p == nil {
		return nil
	}
	var ids []string
	for _, page := range p.Pages {
		for _, panel := range page.Panels {
			ids = append(ids, panel.ID)
		}
	}
	return ids
}

// Panel returns the panel at index.
func (pg *Page) Panel(index int) (*Panel, error) {
	if pg == nil || index < 0 || index >= len(pg.Panels) {
		return nil, fmt.Errorf("state: panel %d does not exist", index)
	}
	return &pg.Panels[index], nil
}

// IndexIDs maps panel position to panel id. Programs use it to locate the
// result file of an earlier panel.
func (pg *Page) IndexIDs() []string {
	if pg == nil {
		return nil
	}
	ids := make([]string, len(pg.Panels))
	for i, panel := range pg.Panels {
		ids[i] = panel.ID
	}
	return ids
}
