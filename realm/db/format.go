package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// TableFormatter renders results as markdown tables.
type TableFormatter struct {
	// MaxWidth is the maximum width for a cell
	MaxWidth int
	// TruncateString is appended to truncated cells
	TruncateString string
}

// NewTableFormatter creates a table formatter with default settings.
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		MaxWidth:       50,
		TruncateString: "...",
	}
}

// FormatResults renders the objects of res, one row each, preceded by their
// key. With no fields every column is shown.
func (tf *TableFormatter) FormatResults(res *Results, fields ...string) (string, error) {
	objects, err := res.Objects()
	if err != nil {
		return "", err
	}
	o := res.object
	cols, err := selectColumns(o, fields)
	if err != nil {
		return "", err
	}

	headers := make([]string, 0, len(cols)+1)
	headers = append(headers, "key")
	for _, ci := range cols {
		headers = append(headers, o.Columns[ci].Name)
	}
	if len(objects) == 0 {
		return fmt.Sprintf("_Columns: %v_\n\n_No objects_", headers), nil
	}

	rows := make([][]string, 0, len(objects))
	for _, obj := range objects {
		row := make([]string, 0, len(headers))
		row = append(row, obj.key.String())
		for _, ci := range cols {
			v, err := obj.Get(o.Columns[ci].Name)
			if err != nil {
				return "", err
			}
			row = append(row, tf.formatValue(&o.Columns[ci], v))
		}
		rows = append(rows, row)
	}
	return tf.formatTable(headers, rows), nil
}

func selectColumns(o *schema.ObjectSchema, fields []string) ([]int, error) {
	if len(fields) == 0 {
		cols := make([]int, len(o.Columns))
		for i := range cols {
			cols[i] = i
		}
		return cols, nil
	}
	cols := make([]int, len(fields))
	for i, f := range fields {
		ci, ok := o.ColumnIndex(f)
		if !ok {
			return nil, realm.Errorf(realm.KindInvalidArgument, "format", "field %q does not exist in type %q", f, o.Name)
		}
		cols[i] = ci
	}
	return cols, nil
}

// formatTable formats headers and rows as a markdown table
func (tf *TableFormatter) formatTable(headers []string, rows [][]string) string {
	tableString := &strings.Builder{}

	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(headers)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()

	tableString.WriteString(fmt.Sprintf("\n_%d objects_\n", len(rows)))
	return tableString.String()
}

// formatValue converts a stored value to a cell
func (tf *TableFormatter) formatValue(c *schema.Column, val realm.Value) string {
	if val == nil {
		return "null"
	}

	var s string
	switch v := val.(type) {
	case string:
		s = v
	case int64:
		s = fmt.Sprintf("%d", v)
	case float32:
		s = fmt.Sprintf("%.2f", v)
	case float64:
		s = fmt.Sprintf("%.2f", v)
	case bool:
		s = fmt.Sprintf("%t", v)
	case time.Time:
		s = v.Format("2006-01-02 15:04:05")
	case []byte:
		s = fmt.Sprintf("%d bytes", len(v))
	case realm.ObjKey:
		s = fmt.Sprintf("%s[%s]", c.Target, v)
	case []realm.ObjKey:
		s = fmt.Sprintf("%d %s", len(v), c.Target)
	default:
		s = fmt.Sprintf("%v", v)
	}
	return tf.truncate(s)
}

func (tf *TableFormatter) truncate(s string) string {
	if tf.MaxWidth <= 0 || len([]rune(s)) <= tf.MaxWidth {
		return s
	}
	r := []rune(s)
	cut := tf.MaxWidth - len([]rune(tf.TruncateString))
	if cut < 0 {
		cut = 0
	}
	return string(r[:cut]) + tf.TruncateString
}

// ResultsString renders res with a default formatter, or the error text.
func ResultsString(res *Results, fields ...string) string {
	s, err := NewTableFormatter().FormatResults(res, fields...)
	if err != nil {
		return "_" + err.Error() + "_"
	}
	return s
}
