package language

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ErrorEnvelope prefixes the one-line JSON record a preamble writes to stderr
// when reading an earlier panel fails.
const ErrorEnvelope = "DM_ERROR "

// Envelope is the payload following ErrorEnvelope.
type Envelope struct {
	Kind    string `json:"kind"`
	PanelID string `json:"panelId"`
	Index   int    `json:"index"`
}

var envelopePattern = regexp.MustCompile(`(?m)^` + ErrorEnvelope + `(\{.*\})\s*$`)

// ParseEnvelope returns the first error envelope found in text.
func ParseEnvelope(text string) (Envelope, bool) {
	match := envelopePattern.FindStringSubmatch(text)
	if match == nil {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(match[1]), &env); err != nil || env.PanelID == "" {
		return Envelope{}, false
	}
	return env, true
}

// Python executes with python3.
func Python() *Language {
	return &Language{
		ID:          "python",
		Name:        "Python",
		DefaultPath: "python3",
		Extension:   ".py",
		Preamble: func(ec EvalContext) string {
			return fmt.Sprintf(`import json as __dm_json, sys as __dm_sys
__DM_PREFIX = %s
__DM_IDS = %s
def DM_getPanel(i):
    pid = __DM_IDS[i]
    try:
        with open(__DM_PREFIX + pid) as f:
            return __dm_json.load(f)
    except Exception:
        __dm_sys.stderr.write(%s + __dm_json.dumps({"kind": "upstream", "panelId": pid, "index": i}) + "\n")
        raise
def DM_setPanel(v):
    with open(__DM_PREFIX + %s, "w") as f:
        __dm_json.dump(v, f)`,
				quoteJSON(ec.ResultsPrefix), quoteJSON(ec.ids()), quoteJSON(ErrorEnvelope), quoteJSON(ec.PanelID))
		},
		RewriteError: func(message, scriptPath string) string {
			message = strings.ReplaceAll(message, fmt.Sprintf("File %q", scriptPath), `File "<program>"`)
			return stripScriptPath(message, scriptPath)
		},
	}
}

// Node executes with node.
func Node() *Language {
	return &Language{
		ID:          "node",
		Name:        "Node.js",
		DefaultPath: "node",
		Extension:   ".js",
		Preamble: func(ec EvalContext) string {
			return fmt.Sprintf(`const __dm_fs = require('fs');
const __DM_PREFIX = %s;
const __DM_IDS = %s;
function DM_getPanel(i) {
  const pid = __DM_IDS[i];
  try {
    return JSON.parse(__dm_fs.readFileSync(__DM_PREFIX + pid).toString());
  } catch (e) {
    process.stderr.write(%s + JSON.stringify({ kind: 'upstream', panelId: pid, index: i }) + '\n');
    throw e;
  }
}
function DM_setPanel(v) {
  __dm_fs.writeFileSync(__DM_PREFIX + %s, JSON.stringify(v));
}`,
				quoteJSON(ec.ResultsPrefix), quoteJSON(ec.ids()), quoteJSON(ErrorEnvelope), quoteJSON(ec.PanelID))
		},
	}
}

// Ruby executes with ruby.
func Ruby() *Language {
	return &Language{
		ID:          "ruby",
		Name:        "Ruby",
		DefaultPath: "ruby",
		Extension:   ".rb",
		Preamble: func(ec EvalContext) string {
			return fmt.Sprintf(`require 'json'
DM_PREFIX = %s
DM_IDS = %s
def DM_getPanel(i)
  pid = DM_IDS[i]
  begin
    JSON.parse(File.read(DM_PREFIX + pid))
  rescue StandardError
    $stderr.puts(%s + JSON.generate({ kind: 'upstream', panelId: pid, index: i }))
    raise
  end
end
def DM_setPanel(v)
  File.write(DM_PREFIX + %s, JSON.generate(v))
end`,
				quoteJSON(ec.ResultsPrefix), quoteJSON(ec.ids()), quoteJSON(ErrorEnvelope), quoteJSON(ec.PanelID))
		},
	}
}

// Shell executes with /bin/sh. DM_getPanel prints the raw JSON of an earlier
// panel; DM_setPanel stores its first argument, which must already be JSON.
func Shell() *Language {
	return &Language{
		ID:          "shell",
		Name:        "Shell",
		DefaultPath: "/bin/sh",
		Extension:   ".sh",
		Preamble:    shellPreamble,
	}
}

func shellPreamble(ec EvalContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DM_PREFIX=%s\n", shellQuote(ec.ResultsPrefix))
	fmt.Fprintf(&b, "DM_PANEL_ID=%s\n", shellQuote(ec.PanelID))
	b.WriteString("DM_panelId() {\n  case \"$1\" in\n")
	for i, id := range ec.IndexIDs {
		fmt.Fprintf(&b, "    %d) printf '%%s' %s ;;\n", i, shellQuote(id))
	}
	b.WriteString("    *) return 1 ;;\n  esac\n}\n")
	b.WriteString(`DM_getPanel() {
  dm_id=$(DM_panelId "$1") || return 1
  if ! cat "$DM_PREFIX$dm_id" 2>/dev/null; then
    printf '` + ErrorEnvelope + `{"kind":"upstream","panelId":"%s","index":%s}\n' "$dm_id" "$1" >&2
    return 1
  fi
}
DM_setPanel() {
  printf '%s' "$1" > "$DM_PREFIX$DM_PANEL_ID"
}`)
	return b.String()
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// quoteJSON renders v as a JSON literal, which is also a valid string or
// list literal in python, node and ruby.
func quoteJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(raw)
}
