package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/kingrea/datastation/internal/state"
)

const maxHTTPBody = 32 << 20

func (e *Evaluator) fetch(ctx context.Context, project *state.Project, panel *state.Panel) (any, error) {
	conn := panel.HTTP.HTTPConnection
	if id := panel.HTTP.ConnectorID; id != "" {
		connector, ok := project.Connector(id)
		if !ok || connector.HTTP == nil {
			return nil, fmt.Errorf("eval: http connector %q not found", id)
		}
		conn = *connector.HTTP
	}
	if strings.TrimSpace(conn.URL) == "" {
		return nil, fmt.Errorf("http: url is required")
	}
	method := strings.ToUpper(strings.TrimSpace(conn.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if panel.Content != "" && method != http.MethodGet && method != http.MethodHead {
		body = strings.NewReader(panel.Content)
	}
	req, err := http.NewRequestWithContext(ctx, method, conn.URL, body)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	for _, h := range conn.Headers {
		if h.Name != "" {
			req.Header.Add(h.Name, h.Value)
		}
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("http: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("http: %s returned %s", conn.URL, resp.Status)
	}

	format := strings.ToLower(strings.TrimSpace(panel.HTTP.Format))
	if format == "" {
		format = formatFromContentType(resp.Header.Get("Content-Type"))
	}
	switch format {
	case "json":
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("http: invalid json: %w", err)
		}
		return value, nil
	case "csv":
		return parseCSV(string(raw))
	case "yaml":
		return parseLiteral(state.LiteralYAML, string(raw))
	default:
		return string(raw), nil
	}
}

func formatFromContentType(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return "json"
	case mediaType == "text/csv":
		return "csv"
	case strings.Contains(mediaType, "yaml"):
		return "yaml"
	}
	return ""
}
