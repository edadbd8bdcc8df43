package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"subledger/config"
	"subledger/core/events"
	"subledger/crypto"
	"subledger/rpc"
	"subledger/rpc/middleware"
	"subledger/services/ledgerd"
	"subledger/storage"
	"subledger/storage/journal"
)

const (
	testSecret   = "test-secret"
	testIssuer   = "subledger-test"
	testAudience = "subledger-api"
	genesis      = int64(1_700_000_000)
)

type fixture struct {
	t       *testing.T
	handler http.Handler
	journal *journal.Journal
	owner   crypto.Address
	buyer   crypto.Address
}

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = 0x5a
	a[19] = b
	return a
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, owner: addr(1), buyer: addr(2)}

	j, err := journal.Open(journal.DriverSQLite, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	f.journal = j

	hub := rpc.NewHub(j)
	emitter := journal.NewEmitter(j, nil)
	emitter.OnAppend = hub.Publish

	svc, err := ledgerd.New(ledgerd.Options{
		DB: storage.NewMemDB(),
		Ledger: &config.Config{
			Owner:              f.owner.String(),
			FeeRecipient:       f.owner.String(),
			RatePerSecond:      "1",
			MinPurchaseSeconds: 100,
			RewardBps:          500,
			RewardHalvings:     6,
			Asset:              config.AssetNative,
			AssetSymbol:        config.DefaultAssetSymbol,
			DeployTime:         uint64(genesis),
			Allocations: []config.Allocation{
				{Account: f.buyer.String(), Amount: "1000000"},
			},
		},
		Sink: events.NewFanout(emitter),
		Now:  func() int64 { return genesis },
	})
	require.NoError(t, err)

	srv := rpc.NewServer(rpc.Config{
		Auth: middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: testSecret,
			Issuer:     testIssuer,
			Audience:   testAudience,
			ClockSkew:  time.Minute,
		},
		RateLimit: middleware.RateLimit{RequestsPerMinute: 6000, Burst: 1000},
	}, svc, hub, nil)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) token(account crypto.Address) string {
	f.t.Helper()
	tok, err := middleware.IssueToken(testSecret, account, testIssuer, testAudience, time.Hour)
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) do(method, path string, caller *crypto.Address, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(*caller))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func TestLedgerSummary(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/v1/ledger", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	require.Equal(t, "native", body["asset"])
	require.Equal(t, f.owner.String(), body["owner"])
	require.Equal(t, "100", body["minimumPurchase"])
	require.Equal(t, "0", body["rewardPoolLifetime"])
	require.Equal(t, false, body["paused"])
}

func TestPurchaseRequiresAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/purchase", nil, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPurchaseAndQuery(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/purchase", &f.buyer, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sub map[string]interface{}
	decode(t, rec, &sub)
	require.Equal(t, true, sub["exists"])
	require.Equal(t, true, sub["active"])
	require.Equal(t, f.buyer.String(), sub["account"])

	rec = f.do(http.MethodGet, "/v1/subscriptions/"+f.buyer.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &sub)
	require.Equal(t, true, sub["active"])

	rec = f.do(http.MethodGet, "/v1/balances/"+f.buyer.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var amount map[string]string
	decode(t, rec, &amount)
	require.Equal(t, "999500", amount["amount"])

	rec = f.do(http.MethodGet, "/v1/records/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var owner map[string]string
	decode(t, rec, &owner)
	require.Equal(t, f.buyer.String(), owner["account"])
}

func TestPurchaseRejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/purchase", &f.buyer, map[string]string{"amount": "abc"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/purchase", &f.buyer, map[string]string{"amount": "10"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var failure map[string]string
	decode(t, rec, &failure)
	require.Equal(t, "validation", failure["class"])

	rec = f.do(http.MethodPost, "/v1/purchase", &f.buyer, map[string]string{"amount": "5000000"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPost, "/v1/purchase", &f.buyer, map[string]interface{}{"amount": "500", "bogus": 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminPause(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/admin/pause", &f.buyer, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/v1/admin/pause", &f.owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/v1/purchase", &f.buyer, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/v1/admin/unpause", &f.owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/v1/purchase", &f.buyer, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReferralCodeLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/admin/referral-codes", &f.owner, map[string]interface{}{"code": 7, "bps": 250})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/v1/referral-codes/7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var code map[string]interface{}
	decode(t, rec, &code)
	require.EqualValues(t, 250, code["bps"])

	rec = f.do(http.MethodPost, "/v1/admin/referral-codes/delete", &f.owner, map[string]interface{}{"code": 7})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/v1/referral-codes/x", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveRequiresTokenAsset(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/token/approve", &f.buyer, map[string]string{"amount": "10"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestMalformedAccount(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/v1/subscriptions/not-an-account", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStreamReplaysAndFollows(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/purchase", &f.buyer, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusOK, rec.Code)

	server := httptest.NewServer(f.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events/ws?after=0"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	type message struct {
		Sequence   uint64            `json:"sequence"`
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}
	next := func() message {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}
	awaitPurchase := func() message {
		for {
			msg := next()
			if msg.Type == events.TypePurchase {
				return msg
			}
		}
	}

	first := awaitPurchase()
	require.True(t, strings.EqualFold(f.buyer.Hex(), first.Attributes["account"]))

	rec = f.do(http.MethodPost, "/v1/purchase", &f.buyer, map[string]string{"amount": "300"})
	require.Equal(t, http.StatusOK, rec.Code)

	second := awaitPurchase()
	require.Greater(t, second.Sequence, first.Sequence)

	head, _ := f.journal.Head()
	require.GreaterOrEqual(t, head, second.Sequence)
}
