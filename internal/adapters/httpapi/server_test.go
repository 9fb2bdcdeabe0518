package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"erpcore/internal/adapters/export"
	"erpcore/internal/adapters/httpapi"
	"erpcore/internal/blob"
	"erpcore/internal/core"
	"erpcore/internal/infra/persistence/memory"
	"erpcore/pkg/domain"
)

type fixture struct {
	svc     *core.Service
	exports *export.Worker
	handler http.Handler
}

func setup(t *testing.T) fixture {
	t.Helper()
	metrics := core.NewPrometheusRecorder()
	svc := core.NewService(memory.NewStore(), blob.NewMemory(), core.WithMetricsRecorder(metrics))
	worker := export.NewWorker(svc, svc.Blobs())
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })
	h := httpapi.NewRouter(svc, httpapi.WithExports(worker), httpapi.WithMetrics(metrics.Handler()))
	return fixture{svc: svc, exports: worker, handler: h}
}

func (f fixture) do(t *testing.T, role domain.Role, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rdr)
	if role != "" {
		req.Header.Set(httpapi.HeaderActor, "tester")
		req.Header.Set(httpapi.HeaderRole, string(role))
	}
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

type rowResponse struct {
	Row map[string]any `json:"row"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Code   string   `json:"code"`
	Fields []string `json:"fields"`
}

func TestHealthAndMetrics(t *testing.T) {
	f := setup(t)
	if resp := f.do(t, "", http.MethodGet, "/healthz", nil); resp.Code != http.StatusOK {
		t.Fatalf("healthz status %d", resp.Code)
	}
	f.do(t, domain.RoleAdmin, http.MethodGet, "/api/v1/tables/books/rows", nil)
	resp := f.do(t, "", http.MethodGet, "/metrics", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "erpcore_mutation_results_total") {
		t.Fatalf("metrics: %d %s", resp.Code, resp.Body.String())
	}
}

func TestListTablesReportsAccess(t *testing.T) {
	f := setup(t)
	resp := f.do(t, domain.RoleSales, http.MethodGet, "/api/v1/tables", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d", resp.Code)
	}
	body := decode[struct {
		Tables []struct {
			Name   string `json:"name"`
			Access string `json:"access"`
		} `json:"tables"`
	}](t, resp)
	got := map[string]string{}
	for _, tbl := range body.Tables {
		got[tbl.Name] = tbl.Access
	}
	want := map[string]string{
		"orders": "write", "billings": "read", "receivables": "read",
		"employees": "read", "companies": "read", "books": "write",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("access mismatch (-want +got):\n%s", diff)
	}
}

func TestRowLifecycle(t *testing.T) {
	f := setup(t)
	resp := f.do(t, domain.RoleAdmin, http.MethodPost, "/api/v1/tables/companies/rows",
		map[string]any{"name": "한빛상사", "business_number": "2208162517"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", resp.Code, resp.Body.String())
	}
	created := decode[rowResponse](t, resp).Row
	if created["business_number"] != "220-81-62517" {
		t.Fatalf("business number not formatted: %v", created)
	}
	id, _ := created["id"].(string)

	resp = f.do(t, domain.RoleAdmin, http.MethodPost, "/api/v1/tables/companies/rows",
		map[string]any{"name": "다른상사", "business_number": "220-81-62517"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate status %d", resp.Code)
	}

	resp = f.do(t, domain.RoleAdmin, http.MethodPost, "/api/v1/tables/companies/rows",
		map[string]any{"name": "오류상사", "business_number": "1234567890"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("invalid number status %d", resp.Code)
	}
	if e := decode[errorResponse](t, resp); e.Code != "VALIDATION_ERROR" || !cmp.Equal(e.Fields, []string{"business_number"}) {
		t.Fatalf("unexpected error body %+v", e)
	}

	resp = f.do(t, domain.RoleAdmin, http.MethodPatch, "/api/v1/tables/companies/rows/"+id, map[string]any{"phone": " 02-123-4567 "})
	if resp.Code != http.StatusOK {
		t.Fatalf("patch status %d: %s", resp.Code, resp.Body.String())
	}
	if row := decode[rowResponse](t, resp).Row; row["phone"] != "02-123-4567" {
		t.Fatalf("patched row %v", row)
	}

	if resp := f.do(t, domain.RoleAdmin, http.MethodPatch, "/api/v1/tables/companies/rows/missing", map[string]any{"phone": "1"}); resp.Code != http.StatusNotFound {
		t.Fatalf("patch missing status %d", resp.Code)
	}
	if resp := f.do(t, domain.RoleSales, http.MethodPatch, "/api/v1/tables/companies/rows/"+id, map[string]any{"phone": "1"}); resp.Code != http.StatusForbidden {
		t.Fatalf("sales patch on admin table status %d", resp.Code)
	}
	if resp := f.do(t, domain.RoleAdmin, http.MethodDelete, "/api/v1/tables/companies/rows/"+id, nil); resp.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.Code)
	}
	if resp := f.do(t, domain.RoleAdmin, http.MethodGet, "/api/v1/tables/companies/rows/"+id, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("get deleted status %d", resp.Code)
	}
}

func TestActorHeaders(t *testing.T) {
	f := setup(t)
	if resp := f.do(t, "", http.MethodGet, "/api/v1/tables/books/rows", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("anonymous status %d", resp.Code)
	}
	if resp := f.do(t, "intern", http.MethodGet, "/api/v1/tables/books/rows", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown role status %d", resp.Code)
	}
	resp := f.do(t, domain.RoleMember, http.MethodGet, "/api/v1/tables/orders/rows", nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("member on orders status %d", resp.Code)
	}
	if e := decode[errorResponse](t, resp); e.Error != "권한이 없습니다" {
		t.Fatalf("denial message %q", e.Error)
	}
	if resp := f.do(t, domain.RoleAdmin, http.MethodGet, "/api/v1/tables/ledger/rows", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown table status %d", resp.Code)
	}
}

func TestReorderEndpoint(t *testing.T) {
	f := setup(t)
	ctx := domain.WithActor(context.Background(), domain.SystemActor)
	a, _ := f.svc.Create(ctx, domain.TableEmployees, domain.Record{"name": "가"})
	b, _ := f.svc.Create(ctx, domain.TableEmployees, domain.Record{"name": "나"})
	body := map[string]any{"positions": []domain.Position{{ID: b.ID(), Position: 1}, {ID: a.ID(), Position: 2}}}
	if resp := f.do(t, domain.RoleAdmin, http.MethodPost, "/api/v1/tables/employees/reorder", body); resp.Code != http.StatusNoContent {
		t.Fatalf("reorder status %d: %s", resp.Code, resp.Body.String())
	}
	rows, _ := f.svc.List(ctx, domain.TableEmployees)
	if rows[0].ID() != b.ID() {
		t.Fatalf("reorder not applied")
	}
	resp := f.do(t, domain.RoleAdmin, http.MethodPost, "/api/v1/tables/orders/reorder", map[string]any{"positions": []any{}})
	if resp.Code != http.StatusConflict || decode[errorResponse](t, resp).Code != "REORDER_UNSUPPORTED" {
		t.Fatalf("orders reorder status %d", resp.Code)
	}
}

func TestOrderTreeAndBusinessNumber(t *testing.T) {
	f := setup(t)
	ctx := domain.WithActor(context.Background(), domain.SystemActor)
	root, _ := f.svc.Create(ctx, domain.TableOrders, domain.Record{"contract_name": "본계약", "company_id": "c1", "amount": 100})
	_, _ = f.svc.Create(ctx, domain.TableOrders, domain.Record{"contract_name": "변경", "company_id": "c1", "amount": 20, "parent_id": root.ID()})
	_, _ = f.svc.Create(ctx, domain.TableCompanies, domain.Record{"name": "A", "business_number": "220-81-62517"})

	resp := f.do(t, domain.RoleSales, http.MethodGet, "/api/v1/orders/tree", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("tree status %d", resp.Code)
	}
	tree := decode[struct {
		Roots []struct {
			TypeLabel   string  `json:"type_label"`
			TotalAmount float64 `json:"total_amount"`
			Amendments  int     `json:"amendments"`
		} `json:"roots"`
	}](t, resp)
	if len(tree.Roots) != 1 || tree.Roots[0].TotalAmount != 120 || tree.Roots[0].Amendments != 1 {
		t.Fatalf("unexpected tree %+v", tree)
	}

	resp = f.do(t, domain.RoleSales, http.MethodGet, "/api/v1/companies/business-number?value=2208162517", nil)
	state := decode[struct {
		Value  string `json:"value"`
		Status string `json:"status"`
	}](t, resp)
	if state.Status != "duplicate" || state.Value != "220-81-62517" {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	f := setup(t)
	ctx := domain.WithActor(context.Background(), domain.SystemActor)
	order, _ := f.svc.Create(ctx, domain.TableOrders, domain.Record{"contract_name": "계약", "company_id": "c1"})

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, _ := mw.CreateFormFile("file", "견적서.txt")
	_, _ = part.Write([]byte("견적 내용"))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+order.ID()+"/attachments", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(httpapi.HeaderActor, "kim")
	req.Header.Set(httpapi.HeaderRole, string(domain.RoleSales))
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("upload status %d: %s", resp.Code, resp.Body.String())
	}
	att := decode[struct {
		Attachment domain.Attachment `json:"attachment"`
	}](t, resp).Attachment
	if att.Name != "견적서.txt" || att.Size != int64(len("견적 내용")) {
		t.Fatalf("unexpected attachment %+v", att)
	}

	list := decode[struct {
		Attachments []domain.Attachment `json:"attachments"`
	}](t, f.do(t, domain.RoleAccounting, http.MethodGet, "/api/v1/orders/"+order.ID()+"/attachments", nil))
	if len(list.Attachments) != 1 || list.Attachments[0].Key != att.Key {
		t.Fatalf("unexpected list %+v", list)
	}

	target := "/api/v1/orders/" + order.ID() + "/attachments/download?key=" + url.QueryEscape(att.Key)
	resp = f.do(t, domain.RoleAccounting, http.MethodGet, target, nil)
	if resp.Code != http.StatusOK || resp.Body.String() != "견적 내용" {
		t.Fatalf("download: %d %q", resp.Code, resp.Body.String())
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") {
		t.Fatalf("content disposition %q", cd)
	}
	if resp := f.do(t, domain.RoleMember, http.MethodGet, target, nil); resp.Code != http.StatusForbidden {
		t.Fatalf("member download status %d", resp.Code)
	}
	other := "/api/v1/orders/" + order.ID() + "/attachments/download?key=" + url.QueryEscape("exports/x.csv")
	if resp := f.do(t, domain.RoleAdmin, http.MethodGet, other, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("unlisted key status %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+order.ID()+"/attachments", strings.NewReader("plain"))
	req.Header.Set(httpapi.HeaderActor, "kim")
	req.Header.Set(httpapi.HeaderRole, string(domain.RoleSales))
	resp = httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("non multipart status %d", resp.Code)
	}
}

func TestExportEndpoints(t *testing.T) {
	f := setup(t)
	ctx := domain.WithActor(context.Background(), domain.SystemActor)
	_, _ = f.svc.Create(ctx, domain.TableBooks, domain.Record{"title": "토지", "author": "박경리"})

	resp := f.do(t, domain.RoleMember, http.MethodPost, "/api/v1/tables/books/exports", map[string]any{"format": "csv"})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("enqueue status %d: %s", resp.Code, resp.Body.String())
	}
	rec := decode[struct {
		Export export.Record `json:"export"`
	}](t, resp).Export

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := decode[struct {
			Export export.Record `json:"export"`
		}](t, f.do(t, domain.RoleMember, http.MethodGet, "/api/v1/exports/"+rec.ID, nil)).Export
		if got.Done() {
			if got.Status != export.StatusSucceeded {
				t.Fatalf("export failed: %+v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("export did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp = f.do(t, domain.RoleMember, http.MethodGet, "/api/v1/exports/"+rec.ID+"/download", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "토지") {
		t.Fatalf("download: %d %q", resp.Code, resp.Body.String())
	}
	if resp := f.do(t, "", http.MethodGet, "/api/v1/exports/"+rec.ID+"/download", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("anonymous download status %d", resp.Code)
	}
	if resp := f.do(t, domain.RoleMember, http.MethodPost, "/api/v1/tables/books/exports", map[string]any{"format": "xlsx"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("unsupported format status %d", resp.Code)
	}
	if resp := f.do(t, domain.RoleMember, http.MethodPost, "/api/v1/tables/orders/exports", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("member export of orders status %d", resp.Code)
	}
	if resp := f.do(t, domain.RoleMember, http.MethodGet, "/api/v1/exports/unknown", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown export status %d", resp.Code)
	}
}
