package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"upirelay/internal/config"
	"upirelay/internal/escrow"
	"upirelay/internal/metastore"
	"upirelay/internal/relayer"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testPayer = common.HexToAddress("0x0a00000000000000000000000000000000000001")
	testPayee = common.HexToAddress("0x0b00000000000000000000000000000000000002")
	testAdmin = common.HexToAddress("0xa0000000000000000000000000000000000000ad")
	testRelay = common.HexToAddress("0x1e000000000000000000000000000000000000e1")
)

func testConfig() *config.Config {
	return &config.Config{
		Network:         "testnet",
		APIKey:          "test-api-key",
		HTTPPort:        0,
		RateLimitWindow: time.Minute,
		RateLimitMax:    100,
	}
}

func oneEther() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

func newTestLedger(t *testing.T) *escrow.SimLedger {
	t.Helper()
	led, err := escrow.NewSimLedger(testAdmin, testRelay)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	led.Fund(testPayer, new(big.Int).Mul(oneEther(), big.NewInt(10)))
	led.Fund(testRelay, oneEther())
	return led
}

func createCondition(t *testing.T, led *escrow.SimLedger) uint64 {
	t.Helper()
	id, err := led.CreateCondition(testPayer, testPayee, led.Now()+86400, "ipfs://QmTest123", oneEther())
	if err != nil {
		t.Fatalf("create condition: %v", err)
	}
	return id
}

func newTestServer(t *testing.T, client escrow.Client) *Server {
	t.Helper()
	return NewServer(testConfig(), relayer.New(client), metastore.NewMemoryStore())
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthHealthy(t *testing.T) {
	led := newTestLedger(t)
	createCondition(t, led)
	srv := newTestServer(t, led)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" || body["network"] != "testnet" {
		t.Fatalf("unexpected health body: %v", body)
	}
	if body["relayerBalance"] != "1 ETH" {
		t.Fatalf("relayerBalance = %v", body["relayerBalance"])
	}
	if body["totalConditions"] != float64(1) {
		t.Fatalf("totalConditions = %v", body["totalConditions"])
	}
}

func TestHealthUnreachableLedger(t *testing.T) {
	led := newTestLedger(t)
	led.SetOffline(true)
	srv := newTestServer(t, led)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "unhealthy" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStoreMetadataRequiresConditionID(t *testing.T) {
	srv := newTestServer(t, newTestLedger(t))

	rec := doJSON(t, srv, http.MethodPost, "/api/conditions", map[string]any{"metadata": map[string]string{"k": "v"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "conditionId is required" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestStoreMetadataAndMergeIntoStatus(t *testing.T) {
	led := newTestLedger(t)
	id := createCondition(t, led)
	srv := newTestServer(t, led)

	rec := doJSON(t, srv, http.MethodPost, "/api/conditions", map[string]any{
		"conditionId": id,
		"metadata":    map[string]string{"description": "milestone 1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/conditions/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "active" {
		t.Fatalf("status = %v", body["status"])
	}
	if body["amount"] != "1" {
		t.Fatalf("amount = %v", body["amount"])
	}
	if body["canTrigger"] != true || body["canRefund"] != false {
		t.Fatalf("predicates: canTrigger=%v canRefund=%v", body["canTrigger"], body["canRefund"])
	}
	meta, ok := body["metadata"].(map[string]any)
	if !ok || meta["description"] != "milestone 1" {
		t.Fatalf("metadata not merged: %v", body["metadata"])
	}
}

func TestGetConditionNotFound(t *testing.T) {
	srv := newTestServer(t, newTestLedger(t))

	rec := doJSON(t, srv, http.MethodGet, "/api/conditions/42", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Condition not found" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestTriggerRejectsBadAPIKey(t *testing.T) {
	led := newTestLedger(t)
	id := createCondition(t, led)
	srv := newTestServer(t, led)

	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/conditions/%d/trigger", id), map[string]any{
		"proof":  "done",
		"apiKey": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}

	// The gate fires before the ledger is touched.
	if cond, _ := led.Condition(context.Background(), id); !cond.Pending() {
		t.Fatal("rejected trigger must not change ledger state")
	}
}

func TestTriggerRequiresProof(t *testing.T) {
	led := newTestLedger(t)
	id := createCondition(t, led)
	srv := newTestServer(t, led)

	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/conditions/%d/trigger", id), map[string]any{
		"apiKey": "test-api-key",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Proof is required" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestTriggerUnknownCondition(t *testing.T) {
	srv := newTestServer(t, newTestLedger(t))

	rec := doJSON(t, srv, http.MethodPost, "/api/conditions/42/trigger", map[string]any{
		"proof":  "done",
		"apiKey": "test-api-key",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestTriggerSuccess(t *testing.T) {
	led := newTestLedger(t)
	id := createCondition(t, led)
	srv := newTestServer(t, led)

	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/conditions/%d/trigger", id), map[string]any{
		"proof":  "delivery-receipt-7",
		"apiKey": "test-api-key",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["message"] != "Condition triggered successfully" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["txHash"] == "" || body["blockNumber"] == nil || body["gasUsed"] == "" {
		t.Fatalf("missing inclusion metadata: %v", body)
	}

	if led.BalanceOf(testPayee).Cmp(oneEther()) != 0 {
		t.Fatalf("payee balance = %s, want 1 ether", led.BalanceOf(testPayee))
	}
}

func TestTriggerTerminalStatePreCheck(t *testing.T) {
	led := newTestLedger(t)
	id := createCondition(t, led)
	if _, err := led.Trigger(context.Background(), id, [32]byte{1}); err != nil {
		t.Fatalf("seed trigger: %v", err)
	}
	srv := newTestServer(t, led)

	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/conditions/%d/trigger", id), map[string]any{
		"proof":  "done",
		"apiKey": "test-api-key",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Condition already executed" {
		t.Fatalf("unexpected error: %v", body)
	}
}

// racingClient reports a pending condition but rejects the submission, the
// shape of losing a trigger race between pre-check and inclusion.
type racingClient struct {
	*escrow.SimLedger
}

func (r *racingClient) Trigger(context.Context, uint64, [32]byte) (escrow.SubmitResult, error) {
	return escrow.SubmitResult{}, &escrow.SubmissionError{Code: escrow.ReasonAlreadyExecuted, Reason: "Condition already executed"}
}

func TestTriggerLostRaceIsSanitized500(t *testing.T) {
	led := newTestLedger(t)
	id := createCondition(t, led)
	srv := newTestServer(t, &racingClient{led})

	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/conditions/%d/trigger", id), map[string]any{
		"proof":  "done",
		"apiKey": "test-api-key",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Condition already executed" {
		t.Fatalf("unexpected error: %v", body)
	}
}

func TestListConditions(t *testing.T) {
	led := newTestLedger(t)
	createCondition(t, led)
	createCondition(t, led)
	srv := newTestServer(t, led)

	rec := doJSON(t, srv, http.MethodGet, "/api/conditions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(2) {
		t.Fatalf("total = %v", body["total"])
	}
	if conditions, ok := body["conditions"].([]any); !ok || len(conditions) != 2 {
		t.Fatalf("conditions = %v", body["conditions"])
	}
}

// flakyClient fails reads for one id so the listing has a hole.
type flakyClient struct {
	*escrow.SimLedger
	badID uint64
}

func (f *flakyClient) Condition(ctx context.Context, id uint64) (escrow.Condition, error) {
	if id == f.badID {
		return escrow.Condition{}, fmt.Errorf("rpc: response corrupted")
	}
	return f.SimLedger.Condition(ctx, id)
}

func TestListConditionsSkipsFailedFetches(t *testing.T) {
	led := newTestLedger(t)
	createCondition(t, led)
	createCondition(t, led)
	createCondition(t, led)
	srv := newTestServer(t, &flakyClient{SimLedger: led, badID: 1})

	rec := doJSON(t, srv, http.MethodGet, "/api/conditions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("one bad id must not fail the listing, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(3) {
		t.Fatalf("total = %v", body["total"])
	}
	if conditions := body["conditions"].([]any); len(conditions) != 2 {
		t.Fatalf("expected bad id skipped, got %d entries", len(conditions))
	}
}

func TestRateLimitAppliesToAPIRoutes(t *testing.T) {
	led := newTestLedger(t)
	cfg := testConfig()
	cfg.RateLimitMax = 2
	srv := NewServer(cfg, relayer.New(led), metastore.NewMemoryStore())

	for i := 0; i < 2; i++ {
		if rec := doJSON(t, srv, http.MethodGet, "/api/conditions", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i+1, rec.Code)
		}
	}
	rec := doJSON(t, srv, http.MethodGet, "/api/conditions", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}

	// Health stays outside the limited surface.
	if rec := doJSON(t, srv, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("health should not be rate limited, got %d", rec.Code)
	}
}
