package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/crudadmin/model"
)

func rowsOf(rows ...Row) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}

var sample = []Row{
	{"id": "1", "title": "Hello, world", "views": 3, "secret": "x"},
	{"id": "2", "title": "Second", "views": nil},
}

func export(t *testing.T, format string, rows iter.Seq2[Row, error]) (*Download, string) {
	t.Helper()
	d, err := NewExporter().GetResponse(format, "out."+format, []string{"id", "title", "views"}, rows)
	if err != nil {
		t.Fatalf("GetResponse error: %v", err)
	}
	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo error: %v", err)
	}
	return d, buf.String()
}

func TestExport_JSON(t *testing.T) {
	d, out := export(t, FormatJSON, rowsOf(sample...))
	if d.ContentType != "application/json" {
		t.Errorf("ContentType = %q", d.ContentType)
	}
	var got []map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if len(got) != 2 || d.Rows() != 2 {
		t.Fatalf("rows = %d (%d counted), want 2", len(got), d.Rows())
	}
	if _, ok := got[0]["secret"]; ok {
		t.Error("column outside the export list was written")
	}
}

func TestExport_CSV(t *testing.T) {
	_, out := export(t, FormatCSV, rowsOf(sample...))
	want := "id,title,views\n1,\"Hello, world\",3\n2,Second,\n"
	if out != want {
		t.Errorf("csv = %q, want %q", out, want)
	}
}

func TestExport_XML(t *testing.T) {
	_, out := export(t, FormatXML, rowsOf(sample[0]))
	for _, want := range []string{
		"<datas>",
		`<data><field name="id">1</field><field name="title">Hello, world</field><field name="views">3</field></data>`,
		"</datas>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("xml %q does not contain %q", out, want)
		}
	}
}

func TestExport_YAML(t *testing.T) {
	_, out := export(t, FormatYAML, rowsOf(sample...))
	var got []map[string]any
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid yaml %q: %v", out, err)
	}
	if len(got) != 2 || got[0]["title"] != "Hello, world" || got[1]["views"] != nil {
		t.Errorf("yaml rows = %v", got)
	}

	_, empty := export(t, FormatYAML, rowsOf())
	if empty != "[]\n" {
		t.Errorf("empty yaml = %q", empty)
	}
}

func TestExport_unsupportedFormat(t *testing.T) {
	_, err := NewExporter().GetResponse("xls", "out.xls", nil, rowsOf())
	if !model.HasCode(err, model.ErrConfiguration) {
		t.Errorf("error = %v, want CONFIGURATION_ERROR", err)
	}
}

func TestExport_sourceError(t *testing.T) {
	boom := errors.New("boom")
	rows := func(yield func(Row, error) bool) {
		if !yield(sample[0], nil) {
			return
		}
		yield(nil, boom)
	}
	d, _ := NewExporter().GetResponse(FormatCSV, "out.csv", []string{"id"}, rows)
	if _, err := d.WriteTo(&bytes.Buffer{}); !errors.Is(err, boom) {
		t.Errorf("WriteTo error = %v, want boom", err)
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	tests := []struct {
		class string
		want  string
	}{
		{`App\Entity\BlogPost`, "export_blogpost_2024_03_09_14_05_07.csv"},
		{"blog.Post", "export_post_2024_03_09_14_05_07.csv"},
		{"Comment", "export_comment_2024_03_09_14_05_07.csv"},
	}
	for _, tt := range tests {
		if got := Filename(tt.class, "csv", at); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.class, got, tt.want)
		}
	}
}

func TestFormats(t *testing.T) {
	got := strings.Join(NewExporter().Formats(), ",")
	if got != "csv,json,xml,yaml" {
		t.Errorf("Formats() = %q", got)
	}
}
