package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Kwenta/smart-margin-sub002/internal/account"
	"github.com/Kwenta/smart-margin-sub002/internal/automation"
	"github.com/Kwenta/smart-margin-sub002/internal/margin"
	"github.com/Kwenta/smart-margin-sub002/internal/market"
	"github.com/Kwenta/smart-margin-sub002/internal/observability"
	"github.com/Kwenta/smart-margin-sub002/internal/registry"
	"github.com/Kwenta/smart-margin-sub002/internal/server"
	"github.com/Kwenta/smart-margin-sub002/internal/settings"
)

type fixture struct {
	handler http.Handler
	sim     *market.Sim
	health  *observability.HealthChecker
	store   *settings.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sim := market.NewSim("ETH-PERP", 10)
	router := market.NewMapRouter()
	router.Register(sim)

	store := settings.NewStatic(settings.Values{
		TradeFeeBps:      10,
		LimitOrderFeeBps: 20,
		StopOrderFeeBps:  30,
		ExecutionEnabled: true,
	})
	keeper := automation.NewKeeper("keeper", 2, "ETH", zerolog.Nop(), nil)

	reg := registry.New(account.Deps{
		Markets:    router,
		Settings:   store,
		Automation: keeper,
		Treasury:   margin.NewTreasury(),
		Log:        zerolog.Nop(),
	}, zerolog.Nop())

	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := server.NewServer("", &server.Deps{
		Registry: reg,
		Settings: store,
		Health:   health,
		Log:      zerolog.Nop(),
	})

	return &fixture{handler: srv.Handler(), sim: sim, health: health, store: store}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type summary struct {
	AccountID       string   `json:"account_id"`
	Owner           string   `json:"owner"`
	Delegates       []string `json:"delegates"`
	Balance         int64    `json:"balance"`
	CommittedMargin int64    `json:"committed_margin"`
	FreeMargin      int64    `json:"free_margin"`
	NativeBalance   int64    `json:"native_balance"`
}

type orderView struct {
	OrderID   uint64 `json:"order_id"`
	MarketKey string `json:"market_key"`
	OrderType string `json:"order_type"`
	Status    string `json:"status"`
}

func (f *fixture) createAccount(t *testing.T, owner string) summary {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/accounts", map[string]any{"owner": owner})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[summary](t, rec)
}

func (f *fixture) deposit(t *testing.T, accountID string, amount int64) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/accounts/"+accountID+"/execute", map[string]any{
		"caller": "owner",
		"commands": []map[string]any{
			{"tag": "ACCOUNT_MODIFY_MARGIN", "payload": map[string]any{"amount": amount}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateAndFetchAccount(t *testing.T) {
	f := newFixture(t)

	created := f.createAccount(t, "owner")
	require.NotEmpty(t, created.AccountID)
	require.Equal(t, "owner", created.Owner)

	rec := f.do(t, http.MethodGet, "/v1/accounts/"+created.AccountID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[summary](t, rec)
	require.Equal(t, created.AccountID, got.AccountID)
	require.Zero(t, got.Balance)
}

func TestCreateAccountIdempotentOnRequestID(t *testing.T) {
	f := newFixture(t)

	body := map[string]any{"owner": "owner", "request_id": "req-1"}
	rec := f.do(t, http.MethodPost, "/v1/accounts", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[summary](t, rec)

	rec = f.do(t, http.MethodPost, "/v1/accounts", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	retry := decode[summary](t, rec)
	require.Equal(t, first.AccountID, retry.AccountID)
}

func TestGetAccountRejectsBadID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/accounts/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/accounts/a4bb0e77-28e5-44a7-9f0e-6e1c9b6ff000", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAccountsByOwner(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, "alice")
	b := f.createAccount(t, "alice")
	f.createAccount(t, "bob")

	rec := f.do(t, http.MethodGet, "/v1/accounts?owner=alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Accounts []summary `json:"accounts"`
	}](t, rec)
	require.Len(t, got.Accounts, 2)
	ids := []string{got.Accounts[0].AccountID, got.Accounts[1].AccountID}
	require.ElementsMatch(t, []string{a.AccountID, b.AccountID}, ids)
}

func TestExecuteAppliesBatch(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner")

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/execute", map[string]any{
		"caller": "owner",
		"commands": []map[string]any{
			{"tag": "ACCOUNT_MODIFY_MARGIN", "payload": map[string]any{"amount": 1_000}},
			{"tag": "ACCOUNT_MODIFY_MARGIN", "payload": map[string]any{"amount": -400}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[summary](t, rec)
	require.Equal(t, int64(600), got.Balance)
}

func TestExecuteMapsDomainErrors(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner")

	// Stranger is forbidden.
	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/execute", map[string]any{
		"caller": "stranger",
		"commands": []map[string]any{
			{"tag": "ACCOUNT_MODIFY_MARGIN", "payload": map[string]any{"amount": 100}},
		},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown tag is a bad request.
	rec = f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/execute", map[string]any{
		"caller": "owner",
		"commands": []map[string]any{
			{"tag": "NOT_A_COMMAND", "payload": map[string]any{}},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Overdraw is well-formed but rejected by account state.
	rec = f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/execute", map[string]any{
		"caller": "owner",
		"commands": []map[string]any{
			{"tag": "ACCOUNT_MODIFY_MARGIN", "payload": map[string]any{"amount": -100}},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExecuteRespectsKillSwitch(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner")

	vals := f.store.Snapshot()
	vals.ExecutionEnabled = false
	require.NoError(t, f.store.Set(vals))

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/execute", map[string]any{
		"caller": "owner",
		"commands": []map[string]any{
			{"tag": "ACCOUNT_MODIFY_MARGIN", "payload": map[string]any{"amount": 100}},
		},
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNativeDeposit(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner")

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/native-deposit", map[string]any{"amount": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[summary](t, rec)
	require.Equal(t, int64(5), got.NativeBalance)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner")
	f.deposit(t, acct.AccountID, 10_000)

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/orders", map[string]any{
		"caller":             "owner",
		"market_key":         "ETH-PERP",
		"margin_delta":       2_000,
		"size_delta":         100,
		"target_price":       9,
		"order_type":         "LIMIT",
		"desired_fill_price": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decode[orderView](t, rec)
	require.Equal(t, uint64(1), placed.OrderID)
	require.Equal(t, "PENDING", placed.Status)

	// Committed margin shows up on the account summary.
	rec = f.do(t, http.MethodGet, "/v1/accounts/"+acct.AccountID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[summary](t, rec)
	require.Equal(t, int64(2_000), got.CommittedMargin)
	require.Equal(t, int64(8_000), got.FreeMargin)

	// Not executable above the limit target, executable at it.
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/orders/%d/executable", acct.AccountID, placed.OrderID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decode[struct {
		Executable bool `json:"executable"`
	}](t, rec)
	require.False(t, check.Executable)

	f.sim.SetPrice(9)
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/accounts/%s/orders/%d/executable", acct.AccountID, placed.OrderID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check = decode[struct {
		Executable bool `json:"executable"`
	}](t, rec)
	require.True(t, check.Executable)

	// Listing shows the single pending order.
	rec = f.do(t, http.MethodGet, "/v1/accounts/"+acct.AccountID+"/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Orders []orderView `json:"orders"`
	}](t, rec)
	require.Len(t, list.Orders, 1)

	// Cancel releases the commitment.
	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/v1/accounts/%s/orders/%d?caller=owner", acct.AccountID, placed.OrderID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[orderView](t, rec)
	require.Equal(t, "CANCELLED", cancelled.Status)

	rec = f.do(t, http.MethodGet, "/v1/accounts/"+acct.AccountID, nil)
	got = decode[summary](t, rec)
	require.Zero(t, got.CommittedMargin)

	// Cancelling a terminal order conflicts.
	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/v1/accounts/%s/orders/%d?caller=owner", acct.AccountID, placed.OrderID), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPlaceOrderRejectsUnknownMarket(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner")
	f.deposit(t, acct.AccountID, 1_000)

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/orders", map[string]any{
		"caller":             "owner",
		"market_key":         "DOGE-PERP",
		"margin_delta":       100,
		"size_delta":         10,
		"target_price":       9,
		"order_type":         "LIMIT",
		"desired_fill_price": 10,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelegateEndpoints(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner")

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/delegates", map[string]any{
		"caller":    "owner",
		"principal": "helper",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[summary](t, rec)
	require.Contains(t, got.Delegates, "helper")

	// Delegates administer nothing.
	rec = f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/delegates", map[string]any{
		"caller":    "helper",
		"principal": "other",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/accounts/"+acct.AccountID+"/delegates/helper?caller=owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[summary](t, rec)
	require.Empty(t, got.Delegates)
}

func TestOwnershipTransferEndpoint(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner")

	rec := f.do(t, http.MethodPost, "/v1/accounts/"+acct.AccountID+"/owner", map[string]any{
		"caller":    "owner",
		"principal": "new-owner",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[summary](t, rec)
	require.Equal(t, "new-owner", got.Owner)

	// The old owner lost the account.
	rec = f.do(t, http.MethodGet, "/v1/accounts?owner=owner", nil)
	list := decode[struct {
		Accounts []summary `json:"accounts"`
	}](t, rec)
	require.Empty(t, list.Accounts)
}

func TestSettingsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	require.Equal(t, float64(10), got["trade_fee_bps"])
	require.Equal(t, true, got["execution_enabled"])
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f.health.SetReady(false)
	rec = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
