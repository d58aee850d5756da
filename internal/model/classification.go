package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is a risk tier.
type Status string

const (
	StatusGreen  Status = "Green"
	StatusYellow Status = "Yellow"
	StatusRed    Status = "Red"
)

// ParseStatus matches a tier name case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "green":
		return StatusGreen, nil
	case "yellow":
		return StatusYellow, nil
	case "red":
		return StatusRed, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Classification is the rule-based tier of one bank/month.
type Classification struct {
	BankID  string
	Period  Period
	Status  Status
	Details string
}

// AIClassification is the model-assisted tier of one bank/month. Reasoning
// holds the model's JSON answer, or "error: ..." when the call failed.
type AIClassification struct {
	BankID    string
	Period    Period
	Status    Status
	Reasoning string
	Model     string
	CreatedAt time.Time
}

// AIErrorPrefix marks a Reasoning that records a failed analysis.
const AIErrorPrefix = "error:"

// Failed reports whether the row records a failed analysis.
func (c AIClassification) Failed() bool {
	return strings.HasPrefix(c.Reasoning, AIErrorPrefix)
}
