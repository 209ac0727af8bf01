package crud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pitabwire/crudadmin/internal/admin"
	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/security"
	"github.com/pitabwire/crudadmin/model"
)

// BatchRequest is the normalised batch envelope.
type BatchRequest struct {
	Action       string
	Idx          []string
	AllElements  bool
	Confirmation string
	// Data is the payload replayed by the confirmation page.
	Data map[string]any
}

// BatchHandler applies a batch action to the objects matched by q.
type BatchHandler func(ctx context.Context, ac *ActionContext, q *datagrid.Query, batch *BatchRequest) (*Response, error)

// RelevanceFunc decides whether a selection is worth acting on. When it is
// not, a non-empty message replaces the default flash message id.
type RelevanceFunc func(batch *BatchRequest) (relevant bool, message string)

type batchEntry struct {
	handler   BatchHandler
	relevance RelevanceFunc
}

// RegisterBatchAction installs the handler of a batch action declared on
// the admin. relevance may be nil for the default "something is selected"
// rule.
func (d *Dispatcher) RegisterBatchAction(adminCode, name string, handler BatchHandler, relevance RelevanceFunc) error {
	a, err := d.admins.Resolve(adminCode)
	if err != nil {
		return err
	}
	if _, ok := a.BatchAction(name); !ok {
		return model.NewConfigurationError(fmt.Sprintf("batch action %q is not declared on admin %q", name, adminCode))
	}
	if handler == nil {
		return model.NewConfigurationError(fmt.Sprintf("batch action %q of admin %q has no handler", name, adminCode))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.batch[adminCode] == nil {
		d.batch[adminCode] = make(map[string]batchEntry)
	}
	d.batch[adminCode][name] = batchEntry{handler: handler, relevance: relevance}
	return nil
}

func (d *Dispatcher) lookupBatch(adminCode, name string) (batchEntry, bool) {
	d.mu.RLock()
	e, ok := d.batch[adminCode][name]
	d.mu.RUnlock()
	if ok {
		return e, true
	}
	if name == admin.BatchDelete {
		return batchEntry{handler: d.batchDelete}, true
	}
	return batchEntry{}, false
}

// ParseBatchRequest normalises the two wire encodings of a batch request: a
// JSON document in "data", or the discrete idx[], all_elements and action
// fields.
func ParseBatchRequest(req *Request) *BatchRequest {
	b := &BatchRequest{Confirmation: req.Param(ParamConfirmation)}

	if raw := req.Param(ParamBatchData); raw != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil && len(data) > 0 {
			b.Data = data
			b.Action, _ = data[ParamBatchAction].(string)
			b.AllElements = truthy(data[ParamAllElements])
			if ids, ok := data[ParamBatchIdx].([]any); ok {
				for _, id := range ids {
					b.Idx = append(b.Idx, fmt.Sprint(id))
				}
			}
			return b
		}
	}

	b.Action = req.Param(ParamBatchAction)
	b.Idx = append(b.Idx, req.Form[ParamBatchIdx+"[]"]...)
	b.Idx = append(b.Idx, req.Form[ParamBatchIdx]...)
	b.AllElements = truthy(req.Param(ParamAllElements))
	b.Data = make(map[string]any, len(req.Form))
	for k, v := range req.Form {
		if k == security.TokenField || len(v) == 0 {
			continue
		}
		if len(v) == 1 && !strings.HasSuffix(k, "[]") {
			b.Data[k] = v[0]
			continue
		}
		b.Data[k] = v
	}
	b.Data[ParamBatchIdx] = b.Idx
	b.Data[ParamAllElements] = b.AllElements
	return b
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(t) {
		case "1", "true", "on":
			return true
		}
	}
	return false
}

func defaultRelevance(b *BatchRequest) (bool, string) {
	return len(b.Idx) > 0 || b.AllElements, ""
}

func (d *Dispatcher) batchAction(ctx context.Context, ac *ActionContext) (*Response, error) {
	a := ac.Admin
	req := ac.Request
	if m := req.RestMethod(); m != http.MethodPost {
		return nil, model.NewNotFoundError(fmt.Sprintf("Invalid request method given %q, POST expected", m))
	}
	if err := d.validateCSRFToken(ac, security.IntentionBatch); err != nil {
		return nil, err
	}

	batch := ParseBatchRequest(req)
	def, ok := a.BatchAction(batch.Action)
	if !ok {
		return nil, model.NewConfigurationError(fmt.Sprintf("The `%s` batch action is not defined", batch.Action))
	}
	entry, hasHandler := d.lookupBatch(a.Code(), batch.Action)

	relevance := entry.relevance
	if relevance == nil {
		relevance = defaultRelevance
	}
	relevant, message := relevance(batch)
	if message == "" {
		message = "flash_batch_empty"
	}

	grid := a.Datagrid(req.Values(), ac.ParentID())

	if !relevant {
		d.recordBatch(a.Code(), batch, "not_relevant")
		d.addFlash(ctx, ac, flashInfo, message, nil)
		return d.redirectToList(ac), nil
	}

	if def.RequiresConfirmation() && batch.Confirmation != "ok" {
		domain := def.TranslationDomain
		if domain == "" {
			domain = a.TranslationDomain()
		}
		template := def.Template
		if template == "" {
			template = "batch_confirmation"
		}
		pager, err := grid.Results(ctx, a.ModelManager())
		if err != nil {
			return nil, err
		}
		token, err := d.csrfToken(ac, security.IntentionBatch)
		if err != nil {
			return nil, err
		}
		d.recordBatch(a.Code(), batch, "confirmation")
		return d.render(ac, template, map[string]any{
			"action":                   ActionList,
			"action_label":             def.Label,
			"batch_action":             def.Name,
			"batch_translation_domain": domain,
			"datagrid":                 grid.Descriptor(a.ListMode(""), a.ListFields(), pager, nil),
			"form":                     grid.FilterDescriptors(),
			"data":                     batch.Data,
			"csrf_token":               token,
		}), nil
	}

	if !hasHandler {
		return nil, model.NewConfigurationError(fmt.Sprintf("A handler for the `%s` batch action of admin %q must be registered", batch.Action, a.Code()))
	}

	q := grid.Query()
	q.ResetBounds()

	if h := d.hooksFor(a.Code()).PreBatchAction; h != nil {
		if err := h(ctx, ac, batch); err != nil {
			return nil, err
		}
	}

	if len(batch.Idx) > 0 {
		a.ModelManager().AddIdentifiersToQuery(a.Class(), q, batch.Idx)
	} else if !batch.AllElements {
		d.recordBatch(a.Code(), batch, "no_elements")
		d.addFlash(ctx, ac, flashInfo, "flash_batch_no_elements_processed", nil)
		return d.redirectToList(ac), nil
	}

	resp, err := entry.handler(ctx, ac, q, batch)
	if err == nil && resp == nil {
		err = model.NewConfigurationError(fmt.Sprintf("the `%s` batch action of admin %q returned no response", batch.Action, a.Code()))
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	d.recordBatch(a.Code(), batch, outcome)
	return resp, err
}

func (d *Dispatcher) recordBatch(adminCode string, batch *BatchRequest, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordBatchAction(adminCode, batch.Action, outcome, len(batch.Idx))
	}
}

// batchDelete is the handler of the delete batch action every admin with a
// delete route offers.
func (d *Dispatcher) batchDelete(ctx context.Context, ac *ActionContext, q *datagrid.Query, _ *BatchRequest) (*Response, error) {
	a := ac.Admin
	if err := a.CheckAccess(ctx, "batchDelete", nil); err != nil {
		return nil, err
	}

	_, err := a.ModelManager().BatchDelete(ctx, a.Class(), q)
	switch {
	case err == nil:
		d.addFlash(ctx, ac, flashSuccess, "flash_batch_delete_success", nil)
	case model.HasCode(err, model.ErrModelManager):
		if err := d.handleModelManagerError(ctx, ac, err); err != nil {
			return nil, err
		}
		d.addFlash(ctx, ac, flashError, "flash_batch_delete_error", nil)
	default:
		return nil, err
	}
	return d.redirectToList(ac), nil
}

func batchDescriptors(ac *ActionContext) []model.BatchActionDescriptor {
	if !ac.Admin.HasRoute(model.RouteBatch) {
		return nil
	}
	actions := ac.Admin.BatchActions()
	out := make([]model.BatchActionDescriptor, 0, len(actions))
	for _, b := range actions {
		out = append(out, model.BatchActionDescriptor{Name: b.Name, Label: b.Label, RequiresConfirmation: b.RequiresConfirmation()})
	}
	return out
}
