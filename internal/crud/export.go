package crud

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/export"
	"github.com/pitabwire/crudadmin/model"
)

// exportFormats returns the formats of the admin the exporter can write.
func (d *Dispatcher) exportFormats(ac *ActionContext) []string {
	if d.exporter == nil {
		return nil
	}
	supported := d.exporter.Formats()
	var out []string
	for _, f := range ac.Admin.ExportFormats() {
		if slices.Contains(supported, f) {
			out = append(out, f)
		}
	}
	return out
}

func (d *Dispatcher) export(ctx context.Context, ac *ActionContext) (*Response, error) {
	a := ac.Admin
	if err := a.CheckAccess(ctx, ActionExport, nil); err != nil {
		return nil, err
	}

	format := ac.Request.Param(ParamFormat)
	allowed := d.exportFormats(ac)
	if !slices.Contains(allowed, format) {
		return nil, model.NewConfigurationError(fmt.Sprintf(
			"Export in format `%s` is not allowed for class: `%s`. Allowed formats are: `%s`",
			format, a.Class(), strings.Join(allowed, ", ")))
	}
	filename := export.Filename(a.Class(), format, d.now())

	q := a.Datagrid(ac.Request.Values(), ac.ParentID()).Query()
	q.ResetBounds()

	columns := exportColumns(ac)
	download, err := d.exporter.GetResponse(format, filename, columns, dataSource(ctx, ac, q, columns))
	if err != nil {
		return nil, err
	}
	return Stream(download), nil
}

func exportColumns(ac *ActionContext) []string {
	columns := []string{"id"}
	fields := ac.Admin.ListFields()
	if len(fields) == 0 {
		fields = ac.Admin.ShowFields()
	}
	for _, f := range fields {
		if f.Field != "id" {
			columns = append(columns, f.Field)
		}
	}
	return columns
}

// dataSource streams the export rows of the full result set of q.
func dataSource(ctx context.Context, ac *ActionContext, q *datagrid.Query, columns []string) iter.Seq2[export.Row, error] {
	return func(yield func(export.Row, error) bool) {
		for obj, err := range ac.Admin.ModelManager().Iterate(ctx, q) {
			if err != nil {
				yield(nil, err)
				return
			}
			row := make(export.Row, len(columns))
			for _, c := range columns {
				if c == "id" {
					row[c] = obj.ID
					continue
				}
				row[c] = obj.Get(c)
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}
