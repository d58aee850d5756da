package llm

import (
	"encoding/json"
	"fmt"
	"os"
)

const defaultSystemPrompt = `You are an impartial interbank credit risk analyst. Estimate the likelihood of financial distress at the bank over the next 1-3 months using ONLY the data provided.
Do not conclude high risk without confirmation from several independent indicators and a sustained trend. If the data is insufficient, choose Green.
Return PURE JSON: {"status", "confidence", "reasons": [], "watchlist": [], "recommendation", "metrics_snapshot": {}, "summary"}.
Request payload schema:
%s
`

const userPromptTemplate = `The data to analyze is in the JSON below. Decide the status from both levels and trends (PCT_M1, PCT_M6).
Green: no material risk signals, or not enough data.
Yellow: moderate or localized risks.
Red: sustained material deterioration in at least 2-3 areas with confirmed dynamics.
Add "summary" with 2-4 sentences. Output strict JSON with no extra text.

%s`

var payloadSchema = map[string]any{
	"bank":              map[string]string{"id": "bank identifier", "name": "bank name", "period_latest": "YYYY-MM-01"},
	"timeseries_months": "number of months in the window",
	"metrics": map[string]string{
		"<INDICATOR_ID>": "base indicators carry series [{p: period, v: value}]; *_PCT_* and single metrics carry latest",
	},
	"algo":         "rule-based status and the rule-set that fired",
	"data_quality": "periods available, non-null series points, base indicators missing at the latest period",
}

// Messages is a rendered prompt.
type Messages struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// LoadSystemPrompt reads a prompt override. An empty path yields "".
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}

func buildMessages(systemOverride string, payloadJSON []byte) Messages {
	system := systemOverride
	if system == "" {
		schema, _ := json.Marshal(payloadSchema)
		system = fmt.Sprintf(defaultSystemPrompt, schema)
	}
	return Messages{
		System: system,
		User:   fmt.Sprintf(userPromptTemplate, payloadJSON),
	}
}
