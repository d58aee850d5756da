package notifier

import (
	"fmt"
	"html"
	"strings"

	"finstat/internal/model"
	"finstat/internal/store"
)

// Telegram rejects messages longer than this many characters.
const maxMessageLen = 4096

var tierIcon = map[model.Status]string{
	model.StatusRed:    "🔴",
	model.StatusYellow: "🟡",
	model.StatusGreen:  "🟢",
}

// FormatRunSummary formats a finished pipeline run.
func FormatRunSummary(run model.RunRecord, counts map[model.Status]int, red []model.Classification, names map[string]string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>finstat run</b> | %s\n\n", run.StartedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Imported rows: %d\n", run.Imported))
	b.WriteString(fmt.Sprintf("Indicator values: %d (+%d changes)\n", run.IndicatorValues, run.ChangeValues))
	b.WriteString(fmt.Sprintf("Classified: %d\n", run.Classified))
	if run.AIClassified > 0 {
		b.WriteString(fmt.Sprintf("AI analyzed: %d\n", run.AIClassified))
	}
	b.WriteString(fmt.Sprintf("\n%s %d | %s %d | %s %d\n",
		tierIcon[model.StatusRed], counts[model.StatusRed],
		tierIcon[model.StatusYellow], counts[model.StatusYellow],
		tierIcon[model.StatusGreen], counts[model.StatusGreen]))
	if len(red) > 0 {
		b.WriteString("\n")
		b.WriteString(FormatTierList(model.StatusRed, red, names))
	}
	if run.ReportPath != "" {
		b.WriteString(fmt.Sprintf("\nReport: %s\n", html.EscapeString(run.ReportPath)))
	}
	return b.String()
}

// FormatTierList lists the banks of one tier with the rule that fired.
func FormatTierList(status model.Status, cs []model.Classification, names map[string]string) string {
	var b strings.Builder
	var rows []model.Classification
	for _, c := range cs {
		if c.Status == status {
			rows = append(rows, c)
		}
	}
	if len(rows) == 0 {
		return fmt.Sprintf("%s No %s banks.\n", tierIcon[status], status)
	}
	b.WriteString(fmt.Sprintf("%s <b>%s banks</b> (%s): %d\n", tierIcon[status], status, rows[0].Period, len(rows)))
	for _, c := range rows {
		name := names[c.BankID]
		if name == "" {
			name = c.BankID
		}
		b.WriteString(fmt.Sprintf("• <b>%s</b> [%s]", html.EscapeString(name), html.EscapeString(c.BankID)))
		if c.Details != "" {
			b.WriteString(": " + html.EscapeString(c.Details))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatStats formats store counters.
func FormatStats(s store.Stats) string {
	var b strings.Builder
	b.WriteString("📦 <b>Database</b>\n\n")
	b.WriteString(fmt.Sprintf("Banks: %d\n", s.Banks))
	b.WriteString(fmt.Sprintf("Forms: %d\n", s.Forms))
	b.WriteString(fmt.Sprintf("Periods: %d\n", s.Periods))
	b.WriteString(fmt.Sprintf("Raw values: %d\n", s.RawValues))
	b.WriteString(fmt.Sprintf("Indicator values: %d\n", s.IndicatorValues))
	b.WriteString(fmt.Sprintf("Classifications: %d\n", s.Classifications))
	b.WriteString(fmt.Sprintf("AI classifications: %d\n", s.AIClassified))
	return b.String()
}

// splitMessage cuts text into chunks of at most limit bytes, preferring line
// breaks.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			cut := limit
			for cut > 0 && !utf8RuneStart(line[cut]) {
				cut--
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > limit {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
