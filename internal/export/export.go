// Package export streams datagrid results as downloadable files.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/crudadmin/model"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXML  = "xml"
	FormatYAML = "yaml"
)

// Row is one exported object, keyed by column.
type Row map[string]any

type writer struct {
	contentType string
	write       func(w io.Writer, columns []string, rows iter.Seq2[Row, error]) (int, error)
}

// Exporter turns row iterators into downloads.
type Exporter struct {
	writers map[string]writer
}

// NewExporter returns an exporter supporting json, csv, xml and yaml.
func NewExporter() *Exporter {
	return &Exporter{writers: map[string]writer{
		FormatJSON: {"application/json", writeJSON},
		FormatCSV:  {"text/csv; charset=utf-8", writeCSV},
		FormatXML:  {"text/xml; charset=utf-8", writeXML},
		FormatYAML: {"application/yaml", writeYAML},
	}}
}

// Formats returns the supported formats, sorted.
func (e *Exporter) Formats() []string {
	out := make([]string, 0, len(e.writers))
	for f := range e.writers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Download is an export ready to be streamed. Rows are read lazily while the
// download is written.
type Download struct {
	ContentType string
	Filename    string
	Format      string

	columns []string
	rows    iter.Seq2[Row, error]
	write   func(w io.Writer, columns []string, rows iter.Seq2[Row, error]) (int, error)
	written int
}

// GetResponse prepares a download of rows in format.
func (e *Exporter) GetResponse(format, filename string, columns []string, rows iter.Seq2[Row, error]) (*Download, error) {
	wr, ok := e.writers[format]
	if !ok {
		return nil, model.NewConfigurationError(fmt.Sprintf("export format %q is not supported", format))
	}
	return &Download{
		ContentType: wr.contentType,
		Filename:    filename,
		Format:      format,
		columns:     columns,
		rows:        rows,
		write:       wr.write,
	}, nil
}

// WriteTo streams the export to w.
func (d *Download) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	n, err := d.write(bw, d.columns, d.rows)
	d.written = n
	if err != nil {
		return cw.n, err
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// Rows returns the number of rows written by WriteTo.
func (d *Download) Rows() int { return d.written }

// Filename builds "export_<short class>_<YYYY_MM_DD_HH_MM_SS>.<format>". The
// short class is the last segment of class, lower-cased.
func Filename(class, format string, at time.Time) string {
	short := class
	if i := strings.LastIndexAny(class, `\./`); i >= 0 {
		short = class[i+1:]
	}
	return fmt.Sprintf("export_%s_%s.%s", strings.ToLower(short), at.Format("2006_01_02_15_04_05"), format)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func writeJSON(w io.Writer, columns []string, rows iter.Seq2[Row, error]) (int, error) {
	if _, err := io.WriteString(w, "["); err != nil {
		return 0, err
	}
	n := 0
	for row, err := range rows {
		if err != nil {
			return n, err
		}
		if n > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return n, err
			}
		}
		b, err := json.Marshal(project(row, columns))
		if err != nil {
			return n, fmt.Errorf("encode row: %w", err)
		}
		if _, err := w.Write(b); err != nil {
			return n, err
		}
		n++
	}
	_, err := io.WriteString(w, "]")
	return n, err
}

func writeCSV(w io.Writer, columns []string, rows iter.Seq2[Row, error]) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return 0, err
	}
	n := 0
	record := make([]string, len(columns))
	for row, err := range rows {
		if err != nil {
			return n, err
		}
		for i, c := range columns {
			record[i] = text(row[c])
		}
		if err := cw.Write(record); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

type xmlField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlRow struct {
	XMLName xml.Name   `xml:"data"`
	Fields  []xmlField `xml:"field"`
}

func writeXML(w io.Writer, columns []string, rows iter.Seq2[Row, error]) (int, error) {
	if _, err := io.WriteString(w, xml.Header+"<datas>\n"); err != nil {
		return 0, err
	}
	enc := xml.NewEncoder(w)
	n := 0
	for row, err := range rows {
		if err != nil {
			return n, err
		}
		xr := xmlRow{Fields: make([]xmlField, 0, len(columns))}
		for _, c := range columns {
			xr.Fields = append(xr.Fields, xmlField{Name: c, Value: text(row[c])})
		}
		if err := enc.Encode(xr); err != nil {
			return n, fmt.Errorf("encode row: %w", err)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return n, err
		}
		n++
	}
	_, err := io.WriteString(w, "</datas>\n")
	return n, err
}

func writeYAML(w io.Writer, columns []string, rows iter.Seq2[Row, error]) (int, error) {
	n := 0
	for row, err := range rows {
		if err != nil {
			return n, err
		}
		node := &yaml.Node{Kind: yaml.MappingNode}
		for _, c := range columns {
			var value yaml.Node
			if err := value.Encode(row[c]); err != nil {
				return n, fmt.Errorf("encode %s: %w", c, err)
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: c}, &value)
		}
		b, err := yaml.Marshal([]*yaml.Node{node})
		if err != nil {
			return n, fmt.Errorf("encode row: %w", err)
		}
		if _, err := w.Write(b); err != nil {
			return n, err
		}
		n++
	}
	if n == 0 {
		_, err := io.WriteString(w, "[]\n")
		return 0, err
	}
	return n, nil
}

// project keeps only the exported columns of row.
func project(row Row, columns []string) map[string]any {
	out := make(map[string]any, len(columns))
	for _, c := range columns {
		out[c] = row[c]
	}
	return out
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case bool:
		if t {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(v)
}
