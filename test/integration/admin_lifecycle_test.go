package integration

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/crudadmin/internal/security"
	"github.com/pitabwire/crudadmin/model"
)

var editURL = regexp.MustCompile(`^/admin/blog\.post/([0-9a-f-]+)/edit$`)

// createPost submits the create form and returns the new object's id.
func createPost(t *testing.T, h *TestHarness, token, title string) string {
	t.Helper()
	loc := h.AssertRedirect(t, h.POSTForm("/admin/blog.post/create?uniqid=post", url.Values{
		"post[title]": {title},
		"post[body]":  {"Body of " + title},
	}, token))
	m := editURL.FindStringSubmatch(loc)
	if m == nil {
		t.Fatalf("create redirected to %q, want the edit page", loc)
	}
	return m[1]
}

func revisionIDs(t *testing.T, page Page) []string {
	t.Helper()
	revs, _ := page.Params["revisions"].([]any)
	ids := make([]string, 0, len(revs))
	for _, r := range revs {
		rev, _ := r.(map[string]any)
		id, _ := rev["id"].(string)
		ids = append(ids, id)
	}
	return ids
}

func TestAdmin_FullLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())

	// Empty create form.
	page := h.Render("/admin/blog.post/create?uniqid=post", token)
	if page.Template != "edit" {
		t.Fatalf("create template = %q, want edit", page.Template)
	}

	id := createPost(t, h, token, "First")

	flashes := h.Flashes(token)
	if len(flashes) != 1 || flashes[0].Message != "flash_create_success" {
		t.Errorf("flashes after create = %+v", flashes)
	}

	// Update.
	h.AssertRedirect(t, h.POSTForm("/admin/blog.post/"+id+"/edit?uniqid=post", url.Values{
		"post[title]":    {"Second"},
		"post[_version]": {"1"},
	}, token))

	page = h.Render("/admin/blog.post/"+id+"/show", token)
	obj, _ := page.Params["object"].(map[string]any)
	fields, _ := obj["fields"].(map[string]any)
	if fields["title"] != "Second" {
		t.Errorf("title after update = %v, want Second", fields["title"])
	}

	// History: newest revision first.
	page = h.Render("/admin/blog.post/"+id+"/history", token)
	ids := revisionIDs(t, page)
	if len(ids) != 2 {
		t.Fatalf("revisions = %v, want 2", ids)
	}
	newest, oldest := ids[0], ids[1]

	page = h.Render("/admin/blog.post/"+id+"/history/"+oldest+"/view", token)
	revObj, _ := page.Params["object"].(map[string]any)
	revFields, _ := revObj["fields"].(map[string]any)
	if page.Template != "show" || revFields["title"] != "First" {
		t.Errorf("revision view = %s %v", page.Template, revFields)
	}

	page = h.Render("/admin/blog.post/"+id+"/history/"+oldest+"/"+newest+"/compare", token)
	if page.Template != "show_compare" {
		t.Errorf("compare template = %q", page.Template)
	}

	// Delete with the token from the confirmation page.
	csrf := h.CSRFToken("/admin/blog.post/"+id+"/delete", token)
	loc := h.AssertRedirect(t, h.DELETEForm("/admin/blog.post/"+id+"/delete", url.Values{
		security.TokenField: {csrf},
	}, token))
	if loc != "/admin/blog.post/list" {
		t.Errorf("delete redirected to %q", loc)
	}
	h.AssertStatus(t, h.GET("/admin/blog.post/"+id+"/show", token), http.StatusNotFound)

	// The delete left a final revision.
	revs, err := h.Revisions.FindRevisions(t.Context(), "Post", id)
	if err != nil || len(revs) != 3 {
		t.Errorf("revisions after delete = %d (%v), want 3", len(revs), err)
	}
}

func TestAdmin_CreateValidationErrors(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())

	t.Run("html", func(t *testing.T) {
		resp := h.POSTForm("/admin/blog.post/create?uniqid=post", url.Values{"post[title]": {""}}, token)
		var page Page
		h.AssertJSON(t, resp, http.StatusOK, &page)
		form, _ := page.Params["form"].(map[string]any)
		if form["valid"] != false || form["submitted"] != true {
			t.Errorf("form = %v", FormatJSON(form))
		}
		flashes := h.Flashes(token)
		if len(flashes) != 1 || flashes[0].Message != "flash_create_error" {
			t.Errorf("flashes = %+v", flashes)
		}
	})

	t.Run("xml http request", func(t *testing.T) {
		resp := h.POSTFormWithHeaders("/admin/blog.post/create?uniqid=post",
			url.Values{"post[title]": {strings.Repeat("x", 121)}}, token,
			map[string]string{"X-Requested-With": "XMLHttpRequest", "Accept": "application/json"})
		var body struct {
			Result string   `json:"result"`
			Errors []string `json:"errors"`
		}
		h.AssertJSON(t, resp, http.StatusBadRequest, &body)
		if body.Result != "error" || len(body.Errors) != 1 {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("xml http request rejects non json accept", func(t *testing.T) {
		resp := h.POSTFormWithHeaders("/admin/blog.post/create?uniqid=post",
			url.Values{"post[title]": {""}}, token,
			map[string]string{"X-Requested-With": "XMLHttpRequest", "Accept": "text/html"})
		h.AssertStatus(t, resp, http.StatusNotAcceptable)
	})
}

func TestAdmin_StaleVersionIsLockConflict(t *testing.T) {
	h := NewTestHarness(t)
	post := h.Seed("Post", map[string]any{"title": "Original"})
	token := h.GenerateToken(EditorClaims())
	path := "/admin/blog.post/" + post.ID + "/edit?uniqid=post"

	// Both editors loaded version 1; the first save wins.
	h.AssertRedirect(t, h.POSTForm(path, url.Values{
		"post[title]": {"Mine"}, "post[_version]": {"1"},
	}, token))
	h.Flashes(token)

	resp := h.POSTForm(path, url.Values{
		"post[title]": {"Theirs"}, "post[_version]": {"1"},
	}, token)
	var page Page
	h.AssertJSON(t, resp, http.StatusOK, &page)
	if page.Template != "edit" {
		t.Errorf("template = %q, want edit", page.Template)
	}

	flashes := h.Flashes(token)
	if len(flashes) != 1 || flashes[0].Message != "flash_lock_error" {
		t.Fatalf("flashes = %+v", flashes)
	}

	stored, _ := h.Objects.Find(t.Context(), "Post", post.ID)
	if stored.Get("title") != "Mine" || stored.Version != 2 {
		t.Errorf("stored = %v v%d, want Mine v2", stored.Get("title"), stored.Version)
	}
}

func TestAdmin_ListFiltersAndPaginates(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ViewerClaims())
	for i := range 30 {
		h.Seed("Post", map[string]any{"title": "Post " + strconv.Itoa(i), "published": i%2 == 0})
	}

	tests := []struct {
		name  string
		query string
		total float64
		rows  int
	}{
		{"first page", "", 30, 25},
		{"second page", "?filter[_page]=2", 30, 5},
		{"title contains", "?filter[title][value]=Post 1", 11, 11},
		{"published", "?filter[published][value]=1", 15, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := h.Render("/admin/blog.post/list"+strings.ReplaceAll(tt.query, " ", "%20"), token)
			grid, _ := page.Params["datagrid"].(map[string]any)
			pager, _ := grid["pager"].(map[string]any)
			rows, _ := grid["rows"].([]any)
			if pager["total_count"] != tt.total {
				t.Errorf("total_count = %v, want %v", pager["total_count"], tt.total)
			}
			if len(rows) != tt.rows {
				t.Errorf("rows = %d, want %d", len(rows), tt.rows)
			}
		})
	}
}

func TestAdmin_BatchDeleteAllElements(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())
	for i := range 3 {
		h.Seed("Post", map[string]any{"title": "Doomed " + strconv.Itoa(i)})
	}

	csrf := h.CSRFToken("/admin/blog.post/list", token)

	t.Run("confirmation page first", func(t *testing.T) {
		resp := h.POSTForm("/admin/blog.post/batch", url.Values{
			"action":            {"delete"},
			"all_elements":      {"1"},
			security.TokenField: {csrf},
		}, token)
		var page Page
		h.AssertJSON(t, resp, http.StatusOK, &page)
		if page.Template != "batch_confirmation" {
			t.Errorf("template = %q, want batch_confirmation", page.Template)
		}
	})

	t.Run("confirmed", func(t *testing.T) {
		loc := h.AssertRedirect(t, h.POSTForm("/admin/blog.post/batch", url.Values{
			"action":            {"delete"},
			"all_elements":      {"1"},
			"confirmation":      {"ok"},
			security.TokenField: {csrf},
		}, token))
		if !strings.HasPrefix(loc, "/admin/blog.post/list") {
			t.Errorf("Location = %q", loc)
		}
		page := h.Render("/admin/blog.post/list", token)
		grid, _ := page.Params["datagrid"].(map[string]any)
		pager, _ := grid["pager"].(map[string]any)
		if pager["total_count"] != float64(0) {
			t.Errorf("total_count = %v, want 0", pager["total_count"])
		}
	})
}

func TestAdmin_BatchWithoutSelection(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())
	csrf := h.CSRFToken("/admin/blog.post/list", token)
	h.Flashes(token)

	h.AssertRedirect(t, h.POSTForm("/admin/blog.post/batch", url.Values{
		"action":            {"delete"},
		"confirmation":      {"ok"},
		security.TokenField: {csrf},
	}, token))

	flashes := h.Flashes(token)
	if len(flashes) != 1 || flashes[0].Message != "flash_batch_empty" {
		t.Errorf("flashes = %+v", flashes)
	}
}

func TestAdmin_Export(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())
	h.Seed("Post", map[string]any{"title": "Exported"})

	tests := []struct {
		format      string
		contentType string
	}{
		{"csv", "text/csv"},
		{"json", "application/json"},
		{"yaml", "application/yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			resp := h.GET("/admin/blog.post/export?format="+tt.format, token)
			body := string(h.ReadBody(resp))
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d (%s)", resp.StatusCode, body)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, tt.contentType) {
				t.Errorf("Content-Type = %q, want %s", ct, tt.contentType)
			}
			cd := resp.Header.Get("Content-Disposition")
			if !strings.Contains(cd, "export_post_") || !strings.Contains(cd, "."+tt.format) {
				t.Errorf("Content-Disposition = %q", cd)
			}
			if !strings.Contains(body, "Exported") {
				t.Errorf("body = %q", body)
			}
		})
	}

	t.Run("format not declared by the admin", func(t *testing.T) {
		resp := h.GET("/admin/blog.post/export?format=xml", token)
		h.AssertStatus(t, resp, http.StatusInternalServerError)
	})
}

func TestAdmin_ChildAdmin(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())
	post := h.Seed("Post", map[string]any{"title": "Parent"})
	other := h.Seed("Post", map[string]any{"title": "Other"})
	base := "/admin/blog.post/" + post.ID + "/blog.comment"

	loc := h.AssertRedirect(t, h.POSTForm(base+"/create?uniqid=comment", url.Values{
		"comment[message]": {"First!"},
	}, token))
	if !strings.HasPrefix(loc, base+"/") {
		t.Fatalf("Location = %q, want under %s", loc, base)
	}
	commentID := strings.TrimSuffix(strings.TrimPrefix(loc, base+"/"), "/edit")

	page := h.Render(base+"/list", token)
	grid, _ := page.Params["datagrid"].(map[string]any)
	pager, _ := grid["pager"].(map[string]any)
	if pager["total_count"] != float64(1) {
		t.Errorf("comments under parent = %v, want 1", pager["total_count"])
	}

	page = h.Render("/admin/blog.post/"+other.ID+"/blog.comment/list", token)
	grid, _ = page.Params["datagrid"].(map[string]any)
	pager, _ = grid["pager"].(map[string]any)
	if pager["total_count"] != float64(0) {
		t.Errorf("comments under other parent = %v, want 0", pager["total_count"])
	}

	// Reaching a comment through the wrong parent is an integrity failure.
	resp := h.GET("/admin/blog.post/"+other.ID+"/blog.comment/"+commentID+"/show", token)
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, http.StatusInternalServerError, &body)
	if body.Error.Code != model.ErrConfiguration {
		t.Errorf("code = %q, want %q", body.Error.Code, model.ErrConfiguration)
	}

	resp = h.GET("/admin/blog.post/missing/blog.comment/create", token)
	h.AssertStatus(t, resp, http.StatusNotFound)
}

func TestAdmin_UnknownAdminAndRoute(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(TestClaims{SubjectID: "root", Roles: []string{"blog_admin", "shop_clerk"}})

	tests := []struct {
		name string
		path string
	}{
		{"unknown admin", "/admin/blog.nothing/list"},
		{"route not declared", "/admin/shop.order/create"},
		{"missing object", "/admin/blog.post/nope/show"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.GET(tt.path, token)
			var body struct {
				Error model.ErrorEnvelope `json:"error"`
			}
			h.AssertJSON(t, resp, http.StatusNotFound, &body)
			if body.Error.Code != model.ErrNotFound {
				t.Errorf("code = %q, want %q", body.Error.Code, model.ErrNotFound)
			}
		})
	}
}

func TestAdmin_ActionMetricsRecorded(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ViewerClaims())

	h.Render("/admin/blog.post/list", token)
	h.AssertStatus(t, h.GET("/admin/blog.post/create", token), http.StatusForbidden)

	if got := testutil.ToFloat64(h.Metrics.ActionsTotal.WithLabelValues("blog.post", "list", "render")); got != 1 {
		t.Errorf("list render count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.Metrics.ActionsTotal.WithLabelValues("blog.post", "create", "error")); got != 1 {
		t.Errorf("create error count = %v, want 1", got)
	}
}
