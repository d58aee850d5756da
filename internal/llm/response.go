package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"finstat/internal/model"
)

// Response is the JSON answer the model is asked to return.
type Response struct {
	Status          string         `json:"status"`
	Confidence      float64        `json:"confidence,omitempty"`
	Reasons         []string       `json:"reasons,omitempty"`
	Watchlist       []string       `json:"watchlist,omitempty"`
	Recommendation  string         `json:"recommendation,omitempty"`
	MetricsSnapshot map[string]any `json:"metrics_snapshot,omitempty"`
	Summary         string         `json:"summary,omitempty"`
}

// ParseResponse decodes a model answer. Markdown fences, trailing commas and
// similar defects are repaired first. An unknown status is an error.
func ParseResponse(text string) (Response, model.Status, error) {
	var r Response
	raw := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		repaired, rerr := jsonrepair.RepairJSON(raw)
		if rerr != nil {
			return r, "", fmt.Errorf("repair response json: %w", rerr)
		}
		r = Response{}
		if err := json.Unmarshal([]byte(repaired), &r); err != nil {
			return r, "", fmt.Errorf("decode response: %w", err)
		}
	}
	status, err := model.ParseStatus(r.Status)
	if err != nil {
		return r, "", err
	}
	r.Status = string(status)
	return r, status, nil
}

// ParseReasoning decodes a stored AIClassification.Reasoning. It reports
// false for error rows and undecodable text.
func ParseReasoning(reasoning string) (Response, bool) {
	var r Response
	if strings.HasPrefix(reasoning, model.AIErrorPrefix) {
		return r, false
	}
	if err := json.Unmarshal([]byte(reasoning), &r); err != nil {
		return r, false
	}
	return r, true
}
