package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ecpmlab/advisor/backend/internal/analysis/billing"
	"github.com/ecpmlab/advisor/backend/internal/model/chat"
	"github.com/ecpmlab/advisor/backend/internal/service/account"
	exchangeService "github.com/ecpmlab/advisor/backend/internal/service/exchange"
	"github.com/ecpmlab/advisor/backend/internal/service/quota"
	"github.com/ecpmlab/advisor/backend/internal/store"
)

const billableAnswer = `Raise your interstitial floor to $1.50 and enable bidding.
1. Bidding lifts eCPM 10-20% on most networks.
2. Floors protect tier-1 inventory from cheap backfill.`

type stubGenerator struct {
	answer string
	err    error
}

func (s *stubGenerator) Generate(context.Context, string, []chat.HistoryEntry) (string, error) {
	return s.answer, s.err
}

func setup(t *testing.T, gen *stubGenerator, limit int) (*chi.Mux, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(10)
	enforcer := quota.NewEnforcer(mem, limit, 3, nil)
	classifier := billing.NewHeuristicClassifier(billing.DefaultHeuristics())
	orchestrator := exchangeService.New(mem, enforcer, classifier, gen, time.Second, nil)
	accounts := account.NewService(mem, nil)
	handler := New(orchestrator, mem, accounts, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, mem
}

func doExchange(r http.Handler, sessionID, message, authorization string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(map[string]string{"sessionId": sessionID, "message": message})
	req := httptest.NewRequest(http.MethodPost, "/exchange", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestExchangeSuccess(t *testing.T) {
	r, _ := setup(t, &stubGenerator{answer: billableAnswer}, 10)

	resp := doExchange(r, "visitor-1", "how do I raise eCPM?", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body exchangeResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Billable || body.UsageCount != 1 || body.Remaining != 9 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.AnswerText == "" {
		t.Fatal("expected answer text")
	}
}

func TestExchangeQuotaExhausted(t *testing.T) {
	r, _ := setup(t, &stubGenerator{answer: billableAnswer}, 1)

	if resp := doExchange(r, "visitor-1", "first", ""); resp.Code != http.StatusOK {
		t.Fatalf("first exchange failed: %d", resp.Code)
	}

	resp := doExchange(r, "visitor-1", "second", "")
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}

	var body failureResponse
	json.Unmarshal(resp.Body.Bytes(), &body)
	if !body.LimitReached || body.Remaining != 0 || body.UsageCount != 1 {
		t.Fatalf("unexpected denial body: %+v", body)
	}
}

func TestExchangeInferenceFailureKeepsQuota(t *testing.T) {
	gen := &stubGenerator{err: errors.New("upstream down")}
	r, mem := setup(t, gen, 10)

	resp := doExchange(r, "visitor-1", "question", "")
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}

	var body failureResponse
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body.UsageCount != 0 || body.Remaining != 10 {
		t.Fatalf("failure must echo pre-request numbers: %+v", body)
	}

	session, err := mem.Get(context.Background(), "visitor-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.UsageCount != 0 {
		t.Fatalf("failed exchange consumed quota: %d", session.UsageCount)
	}
}

func TestExchangeMissingFields(t *testing.T) {
	r, _ := setup(t, &stubGenerator{answer: billableAnswer}, 10)

	resp := doExchange(r, "visitor-1", "", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestExchangeLinkedAccountBypassesLimit(t *testing.T) {
	r, mem := setup(t, &stubGenerator{answer: billableAnswer}, 1)
	if err := mem.SaveAccountToken(context.Background(), "tok-1", "acct-1"); err != nil {
		t.Fatalf("save token: %v", err)
	}

	for i := 0; i < 3; i++ {
		resp := doExchange(r, "visitor-1", "question", "Bearer tok-1")
		if resp.Code != http.StatusOK {
			t.Fatalf("linked exchange %d failed: %d", i, resp.Code)
		}
	}
}

func TestListExchangesRequiresCredential(t *testing.T) {
	r, _ := setup(t, &stubGenerator{answer: billableAnswer}, 10)

	req := httptest.NewRequest(http.MethodGet, "/exchanges", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestListExchangesReturnsAccountAudit(t *testing.T) {
	r, mem := setup(t, &stubGenerator{answer: billableAnswer}, 10)
	ctx := context.Background()
	mem.SaveAccountToken(ctx, "tok-1", "acct-1")

	if resp := doExchange(r, "visitor-1", "question", "Bearer tok-1"); resp.Code != http.StatusOK {
		t.Fatalf("exchange failed: %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/exchanges", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Exchanges []chat.Exchange `json:"exchanges"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Exchanges) != 1 {
		t.Fatalf("expected 1 exchange, got %d", len(body.Exchanges))
	}
	if body.Exchanges[0].AccountID != "acct-1" {
		t.Fatalf("unexpected account on record: %+v", body.Exchanges[0])
	}
}
