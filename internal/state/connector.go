package state

import (
	"encoding/json"
	"fmt"
)

// ConnectorType discriminates connector variants.
type ConnectorType string

const (
	ConnectorSQL  ConnectorType = "sql"
	ConnectorHTTP ConnectorType = "http"
)

// SQLDriver names the database flavor of a SQL connection.
type SQLDriver string

const (
	SQLPostgres SQLDriver = "postgres"
	SQLSQLite   SQLDriver = "sqlite"
)

// SQLConnection holds database parameters. Password is a secret field.
type SQLConnection struct {
	Type     SQLDriver `json:"type"`
	Database string    `json:"database"`
	Username string    `json:"username"`
	Password Secret    `json:"password"`
	Address  string    `json:"address"`
}

// HTTPHeader is one request header.
type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HTTPConnection describes a request.
type HTTPConnection struct {
	URL     string       `json:"url"`
	Method  string       `json:"method"`
	Headers []HTTPHeader `json:"headers"`
}

// Connector is reusable connection configuration referenced by panels.
type Connector struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Type ConnectorType `json:"type"`

	SQL  *SQLConnection  `json:"sql,omitempty"`
	HTTP *HTTPConnection `json:"http,omitempty"`
}

func defaultSQLConnection() SQLConnection {
	return SQLConnection{Type: SQLPostgres, Password: Secret{}}
}

func defaultHTTPConnection() HTTPConnection {
	return HTTPConnection{Method: "GET", Headers: []HTTPHeader{}}
}

// NewConnector constructs a connector of the given type with defaults.
func NewConnector(t ConnectorType) Connector {
	c := Connector{ID: NewID(), Name: "Untitled Connector", Type: t}
	switch t {
	case ConnectorSQL:
		conn := defaultSQLConnection()
		c.SQL = &conn
	case ConnectorHTTP:
		conn := defaultHTTPConnection()
		c.HTTP = &conn
	}
	return c
}

// UnmarshalJSON applies the same default backfill as Panel.UnmarshalJSON.
func (c *Connector) UnmarshalJSON(data []byte) error {
	var head struct {
		Type ConnectorType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Type {
	case ConnectorSQL, ConnectorHTTP:
	default:
		return fmt.Errorf("state: unknown connector type %q", head.Type)
	}
	type plain Connector
	defaults := NewConnector(head.Type)
	filled := plain(defaults)
	if err := json.Unmarshal(data, &filled); err != nil {
		return fmt.Errorf("state: decode %s connector: %w", head.Type, err)
	}
	*c = Connector(filled)
	if c.SQL == nil {
		c.SQL = defaults.SQL
	}
	if c.HTTP == nil {
		c.HTTP = defaults.HTTP
	}
	return nil
}
