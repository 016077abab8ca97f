package auditor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veralog-io/veralog-go/internal/auditor"
	"github.com/veralog-io/veralog-go/internal/ledgertest"
	"github.com/veralog-io/veralog-go/pkg/client"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()

	srv := ledgertest.NewServer()
	c, err := client.New("ledger.test:3322", client.WithTransport(srv))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.VerifiedSet(context.Background(), []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}

	a := auditor.New(map[string]auditor.LedgerClient{"defaultdb": c}, auditor.Config{}, zap.NewNop())
	a.AuditAll(context.Background())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", auditor.MetricsHandler())
	h := auditor.NewHandler(a, zap.NewNop())
	v1 := r.Group("/v1")
	h.Register(v1)
	return r
}

func TestListAudits_200(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/audits", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Audits   []auditor.Result `json:"audits"`
		Tampered int              `json:"tampered"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Audits) != 1 {
		t.Fatalf("expected 1 audit, got %d", len(resp.Audits))
	}
	if resp.Audits[0].Database != "defaultdb" || resp.Audits[0].Status != auditor.StatusOK {
		t.Errorf("audit: got %+v", resp.Audits[0])
	}
	if resp.Tampered != 0 {
		t.Errorf("tampered: got %d, want 0", resp.Tampered)
	}
}

func TestGetAudit_200(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/audits/defaultdb", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res auditor.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != auditor.StatusOK || res.TxID != 1 {
		t.Errorf("audit: got %+v", res)
	}
}

func TestGetAudit_404(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/audits/unknowndb", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetAudit_400_invalidName(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/audits/NOT-A-DB!", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMetrics_200(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "veralog_audits_total") {
		t.Error("metrics output missing audit counters")
	}
}
