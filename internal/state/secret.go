package state

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Secret is a sensitive string field. A nil Value on an incoming update means
// "keep what is stored"; Encrypted reports whether Value is ciphertext.
type Secret struct {
	Value     *string `json:"value"`
	Encrypted bool    `json:"encrypted"`
}

// PlainSecret wraps a cleartext value that still needs encrypting.
func PlainSecret(value string) Secret {
	return Secret{Value: &value}
}

// String returns the value or "" when unset.
func (s Secret) String() string {
	if s.Value == nil {
		return ""
	}
	return *s.Value
}

// UnmarshalJSON also accepts a bare string, treated as cleartext.
func (s *Secret) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var plain string
		if err := json.Unmarshal(data, &plain); err != nil {
			return err
		}
		*s = PlainSecret(plain)
		return nil
	}
	if trimmed == "null" {
		*s = Secret{}
		return nil
	}
	type raw Secret
	var decoded raw
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*s = Secret(decoded)
	return nil
}

// SecretField locates one secret inside a project.
type SecretField struct {
	Path   string
	Secret *Secret
}

// Secrets returns a pointer to every secret field in the project, addressed
// by owner id so the same field can be found in another revision.
func (p *Project) Secrets() []SecretField {
	if p == nil {
		return nil
	}
	var fields []SecretField
	for i := range p.Connectors {
		c := &p.Connectors[i]
		if c.SQL != nil {
			fields = append(fields, SecretField{
				Path:   fmt.Sprintf("connectors[%s].sql.password", c.ID),
				Secret: &c.SQL.Password,
			})
		}
	}
	for pi := range p.Pages {
		for i := range p.Pages[pi].Panels {
			panel := &p.Pages[pi].Panels[i]
			if panel.SQL != nil {
				fields = append(fields, SecretField{
					Path:   fmt.Sprintf("panels[%s].sql.password", panel.ID),
					Secret: &panel.SQL.Password,
				})
			}
		}
	}
	return fields
}

// SecretAt finds the secret stored under path, or nil.
func (p *Project) SecretAt(path string) *Secret {
	for _, field := range p.Secrets() {
		if field.Path == path {
			return field.Secret
		}
	}
	return nil
}

// Redacted returns a deep copy with every secret value cleared. Clients send
// the cleared value back unchanged, which keeps the stored ciphertext.
func (p *Project) Redacted() (*Project, error) {
	if p == nil {
		return nil, nil
	}
	clone, err := p.Clone()
	if err != nil {
		return nil, err
	}
	for _, field := range clone.Secrets() {
		field.Secret.Value = nil
	}
	return clone, nil
}

// Clone deep-copies the project through its JSON form.
func (p *Project) Clone() (*Project, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("state: clone project: %w", err)
	}
	var clone Project
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("state: clone project: %w", err)
	}
	return &clone, nil
}
