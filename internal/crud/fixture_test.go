package crud

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pitabwire/crudadmin/internal/acl"
	"github.com/pitabwire/crudadmin/internal/admin"
	"github.com/pitabwire/crudadmin/internal/audit"
	"github.com/pitabwire/crudadmin/internal/datagrid"
	"github.com/pitabwire/crudadmin/internal/export"
	"github.com/pitabwire/crudadmin/internal/security"
	"github.com/pitabwire/crudadmin/internal/session"
	"github.com/pitabwire/crudadmin/internal/store"
	"github.com/pitabwire/crudadmin/model"
)

// --- test helpers ---

const testSession = "sess-1"

// spyManager counts mutations and can be told to fail them.
type spyManager struct {
	*store.MemoryModelManager

	createErr, updateErr, deleteErr, batchErr error

	creates, updates, deletes, batchDeletes int
	batchQuery                              *datagrid.Query
}

func (s *spyManager) Create(ctx context.Context, obj *model.Object) error {
	s.creates++
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryModelManager.Create(ctx, obj)
}

func (s *spyManager) Update(ctx context.Context, obj *model.Object) error {
	s.updates++
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.MemoryModelManager.Update(ctx, obj)
}

func (s *spyManager) Delete(ctx context.Context, obj *model.Object) error {
	s.deletes++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryModelManager.Delete(ctx, obj)
}

func (s *spyManager) BatchDelete(ctx context.Context, class string, q *datagrid.Query) (int, error) {
	s.batchDeletes++
	s.batchQuery = q.Clone()
	if s.batchErr != nil {
		return 0, s.batchErr
	}
	return s.MemoryModelManager.BatchDelete(ctx, class, q)
}

// fakeSecurity grants everything except the denied actions and records
// every check in order.
type fakeSecurity struct {
	denied map[string]bool
	checks []string
}

func (f *fakeSecurity) IsGranted(_ context.Context, rctx *model.RequestContext, _, action string, _ *model.Object, _ bool) (bool, error) {
	f.checks = append(f.checks, action)
	return rctx != nil && !f.denied[action], nil
}

var postDef = model.AdminDefinition{
	Code:      "blog.post",
	Class:     "Blog\\Post",
	Label:     "Posts",
	NameField: "title",
	Routes: []string{"list", "create", "edit", "delete", "show", "batch", "export",
		"history", "history_view_revision", "history_compare_revisions", "acl"},
	SupportsPreview: true,
	ACLEnabled:      true,
	Audited:         true,
	ExportFormats:   []string{"json", "csv"},
	ListModes:       []string{"list", "mosaic"},
	Fields: []model.FieldDefinition{
		{Field: "title", Label: "Title", Type: model.FieldText, Required: true},
		{Field: "views", Label: "Views", Type: model.FieldInteger},
	},
	ListFields: []model.ColumnDefinition{{Field: "title", Label: "Title", Type: "text"}},
	Filters:    []model.FilterDefinition{{Field: "title", Label: "Title", Type: "string"}},
	BatchActions: []model.BatchActionDefinition{
		{Name: "publish", Label: "Publish"},
		{Name: "archive", Label: "Archive", AskConfirmation: boolPtr(false)},
	},
}

var pageDef = model.AdminDefinition{
	Code:      "blog.page",
	Class:     "Page",
	NameField: "title",
	Routes:    []string{"list", "create", "edit", "show", "history", "acl"},
	Fields: []model.FieldDefinition{
		{Field: "title", Label: "Title", Type: model.FieldText, Required: true},
	},
}

var commentDef = model.AdminDefinition{
	Code:              "blog.comment",
	Class:             "Comment",
	NameField:         "body",
	Parent:            "blog.post",
	ParentAssociation: "post",
	Routes:            []string{"list", "create", "edit", "delete", "show"},
	Fields: []model.FieldDefinition{
		{Field: "body", Label: "Body", Type: model.FieldText, Required: true},
	},
}

var productDef = model.AdminDefinition{
	Code:     "shop.product",
	Class:    "Product",
	Abstract: true,
	Routes:   []string{"list", "create", "edit"},
	Subclasses: []model.SubclassDefinition{
		{Name: "book", Class: "Book"},
	},
	Fields: []model.FieldDefinition{{Field: "name", Label: "Name", Type: model.FieldText}},
}

func boolPtr(b bool) *bool { return &b }

// faultyRevisions fails Append while *err is set.
type faultyRevisions struct {
	*audit.MemoryStore
	err *error
}

func (r faultyRevisions) Append(ctx context.Context, rev *model.Revision) error {
	if *r.err != nil {
		return *r.err
	}
	return r.MemoryStore.Append(ctx, rev)
}

type fixture struct {
	d         *Dispatcher
	pool      *admin.Pool
	mm        *spyManager
	sec       *fakeSecurity
	revisions *audit.MemoryStore
	// appendErr, when set, fails every revision append.
	appendErr error
	flashes   *session.MemoryFlashBag
	csrf      *security.CSRFManager
	acls      *acl.MemoryStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		mm:        &spyManager{MemoryModelManager: store.NewMemoryModelManager(datagrid.DefaultRegistry())},
		sec:       &fakeSecurity{denied: map[string]bool{}},
		revisions: audit.NewMemoryStore(),
		flashes:   session.NewMemoryFlashBag(time.Hour),
		acls:      acl.NewMemoryStore(),
	}
	pool, err := admin.NewPool(admin.Dependencies{
		ModelManager: f.mm,
		Security:     f.sec,
		Recorder:     audit.NewRecorder(faultyRevisions{MemoryStore: f.revisions, err: &f.appendErr}),
		PerPage:      10,
	}, []model.AdminDefinition{postDef, pageDef, commentDef, productDef})
	require.NoError(t, err)
	f.pool = pool

	f.csrf, err = security.NewCSRFManager([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	audits := audit.NewManager()
	audits.Register(postDef.Class, f.revisions)

	base := []Option{
		WithAuditManager(audits),
		WithCSRF(f.csrf),
		WithExporter(export.NewExporter()),
		WithACL(acl.NewManipulator(f.acls, nil)),
		WithFlashBag(f.flashes),
		WithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }),
	}
	f.d = New(pool, append(base, opts...)...)
	f.d.newID = func() string { return "form" }
	return f
}

func userCtx() context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID: "u1",
		Username:  "alice",
		Roles:     []string{"ROLE_EDITOR"},
		SessionID: testSession,
	})
}

func newRequest(method, code, id string) *Request {
	return &Request{
		Method:    method,
		Code:      code,
		ID:        id,
		Query:     url.Values{},
		Form:      url.Values{},
		Header:    http.Header{},
		SessionID: testSession,
	}
}

func (f *fixture) seed(t *testing.T, class string, fields map[string]any) *model.Object {
	t.Helper()
	obj := model.NewObject(class)
	for k, v := range fields {
		obj.Set(k, v)
	}
	require.NoError(t, f.mm.MemoryModelManager.Create(context.Background(), obj))
	return obj
}

func (f *fixture) flashMessages(t *testing.T) []string {
	t.Helper()
	msgs, err := f.flashes.Peek(context.Background(), testSession)
	require.NoError(t, err)
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Message)
	}
	return out
}

func (f *fixture) lastFlash(t *testing.T) model.FlashMessage {
	t.Helper()
	msgs, err := f.flashes.Peek(context.Background(), testSession)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func (f *fixture) token(t *testing.T, intention string) string {
	t.Helper()
	tok, err := f.csrf.Token(testSession, intention)
	require.NoError(t, err)
	return tok
}
