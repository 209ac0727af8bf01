package datagrid

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/pitabwire/crudadmin/model"
)

// Reserved filter parameters.
const (
	ParamPage      = "_page"
	ParamPerPage   = "_per_page"
	ParamSortBy    = "_sort_by"
	ParamSortOrder = "_sort_order"
)

const maxPerPage = 500

// Source runs queries. Model managers implement it.
type Source interface {
	Execute(ctx context.Context, q *Query) ([]*model.Object, error)
	Count(ctx context.Context, q *Query) (int, error)
}

// Value is the bound value of one filter.
type Value struct {
	Operator string
	Value    string
}

// Datagrid pairs the bound filter form with the query it produces.
type Datagrid struct {
	class    string
	filters  []model.FilterDefinition
	registry *Registry
	values   map[string]Value
	fixed    []Criterion
	sortBy   string
	order    string
	page     int
	perPage  int
}

// New binds the filter parameters found under "filter[...]" in params.
// Unknown filters and values of unknown types are ignored.
func New(class string, filters []model.FilterDefinition, registry *Registry, params url.Values, perPage int) *Datagrid {
	d := &Datagrid{
		class:    class,
		filters:  filters,
		registry: registry,
		values:   make(map[string]Value),
		order:    SortAsc,
		page:     1,
		perPage:  perPage,
	}

	raw := FilterParameters(params)
	for _, f := range filters {
		v := raw.Get("filter[" + f.Field + "][value]")
		if v == "" {
			continue
		}
		ft, ok := registry.Get(f.Type)
		if !ok {
			continue
		}
		op := raw.Get("filter[" + f.Field + "][type]")
		if !ft.Supports(op) {
			op = ft.DefaultOperator()
		}
		d.values[f.Field] = Value{Operator: op, Value: v}
	}

	if p, err := strconv.Atoi(raw.Get("filter[" + ParamPage + "]")); err == nil && p > 0 {
		d.page = p
	}
	if pp, err := strconv.Atoi(raw.Get("filter[" + ParamPerPage + "]")); err == nil && pp > 0 {
		d.perPage = min(pp, maxPerPage)
	}
	d.sortBy = raw.Get("filter[" + ParamSortBy + "]")
	if strings.EqualFold(raw.Get("filter["+ParamSortOrder+"]"), SortDesc) {
		d.order = SortDesc
	}
	if d.perPage <= 0 {
		d.perPage = 32
	}
	return d
}

// FilterParameters returns the subset of params that belongs to the filter
// form, used to carry the current filter through redirects.
func FilterParameters(params url.Values) url.Values {
	out := url.Values{}
	for k, v := range params {
		if strings.HasPrefix(k, "filter[") {
			out[k] = append([]string(nil), v...)
		}
	}
	return out
}

// Restrict adds a criterion that applies whatever the bound filters are, such
// as the parent association of a child admin.
func (d *Datagrid) Restrict(field, value string) {
	d.fixed = append(d.fixed, Criterion{Field: field, Type: "exact", Operator: OpEqual, Value: value})
}

// Values returns the bound filter values keyed by field.
func (d *Datagrid) Values() map[string]Value {
	return d.values
}

// Page returns the requested page, starting at 1.
func (d *Datagrid) Page() int { return d.page }

// PerPage returns the page size.
func (d *Datagrid) PerPage() int { return d.perPage }

// Query builds the paginated query for the bound filters.
func (d *Datagrid) Query() *Query {
	q := NewQuery(d.class)
	q.Criteria = append(q.Criteria, d.fixed...)
	for _, f := range d.filters {
		v, ok := d.values[f.Field]
		if !ok {
			continue
		}
		ft, _ := d.registry.Get(f.Type)
		q.Criteria = append(q.Criteria, Criterion{
			Field:    f.Field,
			Type:     ft.Name,
			Operator: v.Operator,
			Value:    v.Value,
		})
	}
	q.SortBy = d.sortBy
	q.SortOrder = d.order
	q.FirstResult = (d.page - 1) * d.perPage
	q.MaxResults = d.perPage
	return q
}

// Pager is one page of datagrid results.
type Pager struct {
	Page       int
	PerPage    int
	TotalCount int
	Results    []*model.Object
}

// LastPage returns the number of the last page, at least 1.
func (p *Pager) LastPage() int {
	if p.TotalCount == 0 || p.PerPage == 0 {
		return 1
	}
	return (p.TotalCount + p.PerPage - 1) / p.PerPage
}

// Results runs the paginated query against src.
func (d *Datagrid) Results(ctx context.Context, src Source) (*Pager, error) {
	q := d.Query()
	total, err := src.Count(ctx, q)
	if err != nil {
		return nil, err
	}
	objs, err := src.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Pager{Page: d.page, PerPage: d.perPage, TotalCount: total, Results: objs}, nil
}

// FilterDescriptors describes the filter form with its bound values.
func (d *Datagrid) FilterDescriptors() []model.FilterDescriptor {
	out := make([]model.FilterDescriptor, 0, len(d.filters))
	for _, f := range d.filters {
		fd := model.FilterDescriptor{Field: f.Field, Label: f.Label, Type: f.Type}
		for _, o := range f.Options {
			fd.Options = append(fd.Options, model.OptionDescriptor{Label: o.Label, Value: o.Value})
		}
		if v, ok := d.values[f.Field]; ok {
			fd.Value = map[string]string{"type": v.Operator, "value": v.Value}
		}
		out = append(out, fd)
	}
	return out
}

// Descriptor renders the page for the frontend.
func (d *Datagrid) Descriptor(listMode string, columns []model.ColumnDefinition, pager *Pager, batch []model.BatchActionDescriptor) model.DatagridDescriptor {
	desc := model.DatagridDescriptor{
		ListMode:     listMode,
		Filters:      d.FilterDescriptors(),
		Rows:         make([]map[string]any, 0),
		BatchActions: batch,
	}
	for _, c := range columns {
		desc.Columns = append(desc.Columns, model.ColumnDescriptor{
			Field: c.Field, Label: c.Label, Type: c.Type, Sortable: c.Sortable,
		})
	}
	if pager == nil {
		return desc
	}
	desc.Pager = model.PagerDescriptor{
		Page:       pager.Page,
		PerPage:    pager.PerPage,
		TotalCount: pager.TotalCount,
		LastPage:   pager.LastPage(),
	}
	for _, obj := range pager.Results {
		row := map[string]any{"id": obj.ID}
		for _, c := range columns {
			row[c.Field] = obj.Get(c.Field)
		}
		desc.Rows = append(desc.Rows, row)
	}
	return desc
}
