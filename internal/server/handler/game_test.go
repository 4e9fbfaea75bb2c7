package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spacewager/internal/domain"
	"github.com/alanyoungcy/spacewager/internal/service"
)

type fakeGame struct {
	env   domain.Env
	info  domain.MessageInfo
	cmd   service.Command
	query service.Query
	res   *domain.Response
	out   any
	err   error
}

func (f *fakeGame) Execute(_ context.Context, env domain.Env, info domain.MessageInfo, cmd service.Command) (*domain.Response, error) {
	f.env, f.info, f.cmd = env, info, cmd
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeGame) Query(_ context.Context, q service.Query) (any, error) {
	f.query = q
	return f.out, f.err
}

var (
	now   = time.Unix(1_650_000_000, 0)
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func newTestHandler(f *fakeGame) *GameHandler {
	h := NewGameHandler(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return now }
	return h
}

func doRequest(h http.HandlerFunc, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestExecuteMakePrediction(t *testing.T) {
	f := &fakeGame{res: (&domain.Response{}).AddAttribute("action", "make_prediction")}
	h := newTestHandler(f)

	rec := doRequest(h.Execute, http.MethodPost, "/api/execute",
		`{"make_prediction":{"up":true},"funds":[{"denom":"uusd","amount":"100"}]}`,
		map[string]string{PlayerHeader: alice.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, service.MakePrediction{Up: true}, f.cmd)
	assert.Equal(t, now, f.env.Now)
	assert.Equal(t, alice, f.info.Sender)
	require.Len(t, f.info.Funds, 1)
	assert.Equal(t, "100", f.info.Funds[0].Amount.Dec())

	var body executeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []domain.Attribute{{Key: "action", Value: "make_prediction"}}, body.Attributes)
	assert.Empty(t, body.Transfers)
}

func TestExecuteResolveGameTransfers(t *testing.T) {
	res := &domain.Response{Transfers: []domain.Transfer{{
		Recipient: alice,
		Coins:     []domain.Coin{{Denom: "uusd", Amount: *uint256.NewInt(665)}},
	}}}
	f := &fakeGame{res: res}
	h := newTestHandler(f)

	rec := doRequest(h.Execute, http.MethodPost, "/api/execute",
		fmt.Sprintf(`{"resolve_game":{"player":%q,"round_ids":[0,2]}}`, strings.ToLower(alice.Hex())), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, service.ResolveGame{Player: alice, Rounds: []uint64{0, 2}}, f.cmd)
	assert.JSONEq(t, fmt.Sprintf(`{"attributes":null,"transfers":[{"recipient":%q,"coins":[{"denom":"uusd","amount":"665"}]}]}`, alice.Hex()), rec.Body.String())
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		header map[string]string
		want   string
	}{
		{"no command", `{}`, nil, "exactly one command"},
		{"two commands", `{"resolve_prediction":{},"make_prediction":{"up":false}}`, nil, "exactly one command"},
		{"unknown field", `{"withdraw":{}}`, nil, "invalid request body"},
		{"bad amount", `{"make_prediction":{"up":true},"funds":[{"denom":"uusd","amount":"-1"}]}`, map[string]string{PlayerHeader: alice.Hex()}, "funds amount"},
		{"missing sender", `{"make_prediction":{"up":true}}`, nil, PlayerHeader},
		{"bad sender", `{"resolve_prediction":{}}`, map[string]string{PlayerHeader: "0xnope"}, "invalid player"},
		{"bad claim player", `{"resolve_game":{"player":"bob","round_ids":[1]}}`, nil, "invalid player"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeGame{}
			rec := doRequest(newTestHandler(f).Execute, http.MethodPost, "/api/execute", tt.body, tt.header)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Nil(t, f.cmd)
		})
	}
}

func TestExecuteErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("game: %w", domain.ErrWrongDenom), http.StatusBadRequest},
		{fmt.Errorf("game: %w", domain.ErrRoundClosed), http.StatusConflict},
		{fmt.Errorf("game: %w", domain.ErrPredictionStillInProgress), http.StatusConflict},
		{fmt.Errorf("game: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("game: %w", domain.ErrLockHeld), http.StatusLocked},
		{fmt.Errorf("game: %w", domain.ErrPriceUnavailable), http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		f := &fakeGame{err: tt.err}
		rec := doRequest(newTestHandler(f).Execute, http.MethodPost, "/api/execute", `{"resolve_prediction":{}}`, nil)
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
		if tt.code == http.StatusInternalServerError {
			assert.NotContains(t, rec.Body.String(), "disk on fire")
		}
	}
}

func TestQueryEnvelope(t *testing.T) {
	f := &fakeGame{out: service.StateResponse{Round: 4}}
	h := newTestHandler(f)

	rec := doRequest(h.Query, http.MethodPost, "/api/query", `{"state":{}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"round":4}`, rec.Body.String())
	assert.Equal(t, service.StateQuery{}, f.query)

	rec = doRequest(h.Query, http.MethodPost, "/api/query",
		fmt.Sprintf(`{"games":{"player":%q,"start_after":9,"limit":3}}`, alice.Hex()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	after := uint64(9)
	assert.Equal(t, service.GamesQuery{Player: alice, StartAfter: &after, Limit: 3}, f.query)

	rec = doRequest(h.Query, http.MethodPost, "/api/query", `{"state":{},"config":{}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAliases(t *testing.T) {
	f := &fakeGame{out: map[string]string{}}
	h := newTestHandler(f)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/predictions", h.ListPredictions)
	mux.HandleFunc("GET /api/predictions/{id}", h.GetPrediction)
	mux.HandleFunc("GET /api/players/{player}/games/{id}", h.GetGame)

	serve := func(target string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec.Code
	}

	require.Equal(t, http.StatusOK, serve("/api/predictions?start_after=2&limit=5"))
	after := uint64(2)
	assert.Equal(t, service.PredictionsQuery{StartAfter: &after, Limit: 5}, f.query)

	require.Equal(t, http.StatusOK, serve("/api/predictions?limit=junk"))
	assert.Equal(t, service.PredictionsQuery{}, f.query)

	require.Equal(t, http.StatusOK, serve("/api/predictions/7"))
	assert.Equal(t, service.PredictionQuery{Round: 7}, f.query)
	assert.Equal(t, http.StatusBadRequest, serve("/api/predictions/x"))

	require.Equal(t, http.StatusOK, serve("/api/players/"+alice.Hex()+"/games/3"))
	assert.Equal(t, service.GameQuery{Player: alice, Round: 3}, f.query)
	assert.Equal(t, http.StatusBadRequest, serve("/api/players/zz/games/3"))
}

func TestHealthCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := NewHealthHandler("full", map[string]Check{"store": func(context.Context) error { return nil }}, logger)
	rec := doRequest(ok.HealthCheck, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	bad := NewHealthHandler("full", map[string]Check{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}, logger)
	rec = doRequest(bad.HealthCheck, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "connection refused", body.Checks["redis"])
	assert.Equal(t, "ok", body.Checks["store"])
}
