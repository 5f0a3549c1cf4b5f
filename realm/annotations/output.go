package annotations

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
}

// NewOutputFormatter creates a formatter, enabling color when w is a
// terminal that fatih/color considers color-capable.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}

	useColor := false
	if f, ok := w.(*os.File); ok && (f == os.Stdout || f == os.Stderr) {
		useColor = !color.NoColor
	}

	return &OutputFormatter{
		useColor: useColor,
		writer:   w,
	}
}

// SetColor forces color output on or off.
func (f *OutputFormatter) SetColor(on bool) {
	f.useColor = on
}

// Handle implements the Handler interface - prints events as they occur
func (f *OutputFormatter) Handle(event Event) {
	output := f.Format(event)
	if output != "" {
		fmt.Fprintln(f.writer, output)
	}
}

// Format converts an event to a human-readable string.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)
	d := event.Data

	switch event.Name {
	case RealmOpened:
		return fmt.Sprintf("%s %s Opened %s at version %v",
			latency,
			f.colorize("===", color.FgGreen),
			f.colorize(str(d, "path"), color.FgCyan),
			d["version"])

	case RealmClosed:
		return fmt.Sprintf("%s %s Closed %s",
			latency,
			f.colorize("===", color.FgYellow),
			f.colorize(str(d, "path"), color.FgCyan))

	case RealmRefresh:
		from, to := d["from"], d["to"]
		if from == to {
			return fmt.Sprintf("%s Refresh: already at version %v", latency, to)
		}
		return fmt.Sprintf("%s Refresh: version %v → %v", latency, from, to)

	case TxBegin:
		return fmt.Sprintf("%s %s Write transaction on version %v",
			latency,
			f.colorize("BEGIN", color.FgBlue),
			d["version"])

	case TxCommit:
		if errMsg, ok := d["error"]; ok {
			return fmt.Sprintf("%s %s Commit failed: %v",
				latency,
				f.colorize("✗", color.FgRed),
				errMsg)
		}
		return fmt.Sprintf("%s %s Published version %v with %s",
			latency,
			f.colorize("COMMIT", color.FgGreen),
			d["version"],
			f.colorizeCount("mutations", intOf(d, "mutations")))

	case TxCancel:
		return fmt.Sprintf("%s %s Discarded %s",
			latency,
			f.colorize("CANCEL", color.FgYellow),
			f.colorizeCount("mutations", intOf(d, "mutations")))

	case QueryEvaluated:
		var queryStr string
		if f.useColor {
			queryStr = fmt.Sprintf("%s%s%s",
				color.BlueString("Query("),
				color.CyanString("%s: %s", str(d, "type"), truncateQuery(str(d, "query"))),
				color.BlueString(")"))
		} else {
			queryStr = fmt.Sprintf("Query(%s: %s)", str(d, "type"), truncateQuery(str(d, "query")))
		}
		via := ""
		if indexed, _ := d["indexed"].(bool); indexed {
			via = " via index"
		}
		arrow := " → "
		if f.useColor {
			arrow = color.YellowString(arrow)
		}
		return fmt.Sprintf("%s %s on %s%s%s%s",
			latency,
			queryStr,
			f.colorizeCount("objects", intOf(d, "input.size")),
			via,
			arrow,
			f.colorizeCount("objects", intOf(d, "result.size")))

	case QueryAggregated:
		return fmt.Sprintf("%s %s(%s) over %s = %v",
			latency,
			str(d, "function"),
			str(d, "field"),
			f.colorizeCount("objects", intOf(d, "input.size")),
			d["result"])

	case ResultsNotified:
		return fmt.Sprintf("%s Notified %s of %s",
			latency,
			f.colorizeCount("listeners", intOf(d, "listeners")),
			f.colorizeCount("results", intOf(d, "results")))

	default:
		// Generic format for unknown events
		return fmt.Sprintf("%s %s %s", latency, event.Name, formatData(d))
	}
}

// formatLatency formats a duration as [XXXms] or [XXXµs] with color coding.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)
	if !f.useColor {
		return s
	}

	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// colorizeCount formats a count with a label, using color based on the label.
func (f *OutputFormatter) colorizeCount(label string, count int) string {
	text := fmt.Sprintf("%d %s", count, label)
	if !f.useColor {
		return text
	}

	switch label {
	case "objects", "results":
		return color.MagentaString(text)
	case "mutations":
		return color.CyanString(text)
	case "listeners":
		return color.BlueString(text)
	default:
		return text
	}
}

// colorize applies color if enabled.
func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// truncateQuery shortens long queries for display.
func truncateQuery(query string) string {
	query = strings.Join(strings.Fields(query), " ")

	const maxLen = 80
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen-3] + "..."
}

func str(d map[string]interface{}, key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}

func intOf(d map[string]interface{}, key string) int {
	switch n := d[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	}
	return 0
}

// formatData renders event data with keys in a stable order.
func formatData(d map[string]interface{}) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, d[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// ConsoleHandler creates a handler that prints formatted events to stderr.
func ConsoleHandler() Handler {
	return NewOutputFormatter(os.Stderr).Handle
}
