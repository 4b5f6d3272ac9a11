package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/blobstore"
	"github.com/mcclellann/vsla/pkg/clock"
	"github.com/mcclellann/vsla/pkg/ledger"
	"github.com/mcclellann/vsla/pkg/logging"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var testSecret = []byte("test-secret")

var (
	chairman  = models.Actor{MemberID: uuid.New(), Role: models.RoleChairman}
	treasurer = models.Actor{MemberID: uuid.New(), Role: models.RoleTreasurer}
)

func setupTestServer(t *testing.T) *mux.Router {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "api.db"), logging.Discard())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	blobs, err := blobstore.NewFileStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}
	l := ledger.NewLedger(s, ledger.Options{
		Clock:  clock.NewFixed(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)),
		Blobs:  blobs,
		Logger: logging.Discard(),
	})
	return NewServer(l, testSecret, logging.Discard()).Router()
}

func token(t *testing.T, actor models.Actor) string {
	t.Helper()
	tok, err := IssueToken(testSecret, actor, time.Hour)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tok
}

// call sends a JSON request as actor and decodes a JSON response into out when non-nil.
func call(t *testing.T, router *mux.Router, actor models.Actor, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token(t, actor))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return rr
}

func uploadRequest(t *testing.T, actor models.Actor, path, amount string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("amount", amount)
	mw.WriteField("reference", "MPESA-9")
	fw, _ := mw.CreateFormFile("file", "receipt.png")
	io.WriteString(fw, "receipt bytes")
	mw.Close()
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, actor))
	return req
}

// activeCycle creates and activates a 2025 cycle with every phase open from the 1st.
func activeCycle(t *testing.T, router *mux.Router) models.Cycle {
	t.Helper()
	var c models.Cycle
	rr := call(t, router, chairman, "POST", "/api/cycles", map[string]any{
		"year":       2025,
		"start_date": "2025-01-01T00:00:00Z",
	}, &c)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	for _, p := range []string{"declaration", "loan_application", "deposits"} {
		rr = call(t, router, chairman, "PUT", "/api/cycles/"+c.ID.String()+"/phases",
			map[string]any{"phase_type": p, "monthly_start_day": 1}, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200 for %s phase, got %d: %s", p, rr.Code, rr.Body.String())
		}
	}
	rr = call(t, router, chairman, "POST", "/api/cycles/"+c.ID.String()+"/activate", nil, &c)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	return c
}

func TestAPI_RequiresToken(t *testing.T) {
	router := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/cycles", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	expired, err := IssueToken(testSecret, chairman, -time.Minute)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	req = httptest.NewRequest("GET", "/api/cycles", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for expired token, got %d", rr.Code)
	}

	forged, _ := IssueToken([]byte("other-secret"), chairman, time.Hour)
	req = httptest.NewRequest("GET", "/api/cycles", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for token with wrong key, got %d", rr.Code)
	}
}

func TestAPI_CycleRoles(t *testing.T) {
	router := setupTestServer(t)
	m := models.Actor{MemberID: uuid.New(), Role: models.RoleMember}

	rr := call(t, router, m, "POST", "/api/cycles", map[string]any{"year": 2025, "start_date": "2025-01-01T00:00:00Z"}, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}

	rr = call(t, router, chairman, "POST", "/api/cycles", map[string]any{"year": 1900, "start_date": "1900-01-01T00:00:00Z"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid year, got %d", rr.Code)
	}

	c := activeCycle(t, router)
	var active models.Cycle
	rr = call(t, router, m, "GET", "/api/cycles/active", nil, &active)
	if rr.Code != http.StatusOK || active.ID != c.ID {
		t.Errorf("Expected active cycle %s, got %d %s", c.ID, rr.Code, active.ID)
	}
}

func TestAPI_DepositFlow(t *testing.T) {
	router := setupTestServer(t)
	c := activeCycle(t, router)
	m := models.Actor{MemberID: uuid.New(), Role: models.RoleMember}

	var decl models.Declaration
	rr := call(t, router, m, "POST", "/api/declarations", map[string]any{
		"member_id":               m.MemberID,
		"cycle_id":                c.ID,
		"effective_month":         "2025-03-01T00:00:00Z",
		"declared_savings_amount": "100",
		"declared_social_fund":    "25",
	}, &decl)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = call(t, router, m, "POST", "/api/declarations", map[string]any{
		"member_id":               m.MemberID,
		"cycle_id":                c.ID,
		"effective_month":         "2025-03-01T00:00:00Z",
		"declared_savings_amount": "10",
	}, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate declaration, got %d", rr.Code)
	}

	path := "/api/declarations/" + decl.ID.String() + "/proofs"
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, m, path, "125.50"))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422 for mismatched amount, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body.Code != "amount_mismatch" {
		t.Errorf("Expected amount_mismatch code, got %q", body.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, m, path, "125.00"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var p models.DepositProof
	json.Unmarshal(rr.Body.Bytes(), &p)

	rr = call(t, router, m, "POST", "/api/deposits/"+p.ID.String()+"/approve", nil, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for member approval, got %d", rr.Code)
	}
	rr = call(t, router, treasurer, "POST", "/api/deposits/"+p.ID.String()+"/approve", nil, &p)
	if rr.Code != http.StatusOK || p.Status != models.DepositApproved {
		t.Fatalf("Expected approved deposit, got %d %s", rr.Code, p.Status)
	}
	rr = call(t, router, treasurer, "POST", "/api/deposits/"+p.ID.String()+"/approve", nil, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for second approval, got %d", rr.Code)
	}

	rr = call(t, router, m, "GET", "/api/balances", nil, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for member reading all balances, got %d", rr.Code)
	}

	var balances []models.AccountBalance
	rr = call(t, router, m, "GET", "/api/balances?member_id="+m.MemberID.String(), nil, &balances)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	for _, b := range balances {
		if b.Account == models.AccountSavings && !b.Balance().Equal(decimal.NewFromInt(100)) {
			t.Errorf("Expected savings 100, got %s", b.Balance())
		}
	}

	savingsPath := "/api/cycles/" + c.ID.String() + "/members/" + m.MemberID.String() + "/savings"
	var savings struct {
		Savings decimal.Decimal `json:"savings"`
	}
	rr = call(t, router, m, "GET", savingsPath, nil, &savings)
	if rr.Code != http.StatusOK || !savings.Savings.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected savings 100, got %d %s", rr.Code, savings.Savings)
	}
	other := models.Actor{MemberID: uuid.New(), Role: models.RoleMember}
	rr = call(t, router, other, "GET", savingsPath, nil, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for another member's savings, got %d", rr.Code)
	}

	var rep ledger.ReconciliationReport
	rr = call(t, router, treasurer, "GET", "/api/reconciliation", nil, &rep)
	if rr.Code != http.StatusOK || !rep.OK() {
		t.Errorf("Expected a reconciled ledger, got %d %+v", rr.Code, rep.Mismatches)
	}

	rr = call(t, router, m, "GET", "/api/members/"+m.MemberID.String()+"/statement?format=xlsx", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	f, err := excelize.OpenReader(rr.Body)
	if err != nil {
		t.Fatalf("Failed to open statement workbook: %v", err)
	}
	defer f.Close()
	if got, _ := f.GetCellValue("Statement", "B1"); got != m.MemberID.String() {
		t.Errorf("Expected member %s in statement, got %q", m.MemberID, got)
	}

	rr = call(t, router, treasurer, "POST", "/api/reversals", map[string]any{
		"source_type": models.SourceDeposit,
		"source_id":   p.ID,
		"reason":      "duplicate bank entry",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = call(t, router, m, "GET", savingsPath, nil, &savings)
	if rr.Code != http.StatusOK || !savings.Savings.IsZero() {
		t.Errorf("Expected savings 0 after reversal, got %d %s", rr.Code, savings.Savings)
	}
	rep = ledger.ReconciliationReport{}
	rr = call(t, router, treasurer, "GET", "/api/reconciliation", nil, &rep)
	if rr.Code != http.StatusOK || !rep.OK() {
		t.Errorf("Expected a reconciled ledger after reversal, got %d %+v", rr.Code, rep.Mismatches)
	}
}

func TestAPI_NotFoundAndBadID(t *testing.T) {
	router := setupTestServer(t)

	rr := call(t, router, treasurer, "GET", "/api/loans/"+uuid.NewString(), nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
	rr = call(t, router, treasurer, "GET", "/api/loans/not-a-uuid", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validationf("x"), http.StatusBadRequest},
		{apperr.ErrPhaseClosed, http.StatusConflict},
		{apperr.ErrDuplicateDeclaration, http.StatusConflict},
		{apperr.ErrOverpayment, http.StatusUnprocessableEntity},
		{apperr.NotFoundf("loan"), http.StatusNotFound},
		{apperr.Permissionf("no"), http.StatusForbidden},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
