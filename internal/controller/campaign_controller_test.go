package controller_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/engagement-escrow/internal/controller"
	"github.com/unclebandit/engagement-escrow/internal/handler"
	"github.com/unclebandit/engagement-escrow/internal/metrics"
	"github.com/unclebandit/engagement-escrow/internal/model"
	"github.com/unclebandit/engagement-escrow/internal/queue"
	"github.com/unclebandit/engagement-escrow/internal/repository"
	"github.com/unclebandit/engagement-escrow/internal/service"
)

type party struct {
	id   model.Identity
	priv ed25519.PrivateKey
}

func newParty(t *testing.T, seed byte) party {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	return party{id: model.IdentityFromKey(priv.Public().(ed25519.PublicKey)), priv: priv}
}

type testAPI struct {
	srv   *httptest.Server
	svc   *service.CampaignService
	queue *queue.InMemoryQueue
}

func newTestAPI(t *testing.T, verify bool) *testAPI {
	t.Helper()
	return newTestAPIWithVerifier(t, verify, nil)
}

func newTestAPIWithVerifier(t *testing.T, verify bool, verifier *controller.Verifier) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	q := queue.NewInMemoryQueue(logger)
	q.Backoff = time.Millisecond

	svc := &service.CampaignService{
		Store:   repository.NewMemoryStore(),
		Metrics: metrics.New(registry),
		Logger:  logger,
	}
	ctrl := &controller.CampaignController{
		CampaignService: svc,
		Queue:           q,
		ReleaseTopic:    "payment_releases",
		Logger:          logger,
	}
	router := controller.NewRouter(ctrl, handler.NewCampaignHandler(svc), controller.RouterOptions{
		RequireSignatures: verify,
		Verifier:          verifier,
		EnableFaucet:      true,
		Metrics:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, svc: svc, queue: q}
}

// signedRequest builds a request whose headers sign method, path, a fresh
// nonce, the given time and raw.
func (a *testAPI) signedRequest(t *testing.T, method, path string, signer party, raw []byte, at time.Time) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	timestamp := strconv.FormatInt(at.Unix(), 10)
	nonce := uuid.NewString()
	msg := controller.SigningMessage(method, req.URL.EscapedPath(), timestamp, nonce, raw)
	req.Header.Set(controller.HeaderSigner, string(signer.id))
	req.Header.Set(controller.HeaderTimestamp, timestamp)
	req.Header.Set(controller.HeaderNonce, nonce)
	req.Header.Set(controller.HeaderSignature, hex.EncodeToString(ed25519.Sign(signer.priv, msg)))
	return req
}

// resend copies a captured request, headers and body included, onto path.
func (a *testAPI) resend(t *testing.T, captured *http.Request, path string, raw []byte) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(captured.Method, a.srv.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header = captured.Header.Clone()
	return a.send(t, req)
}

// do sends body as JSON, signed by signer when signer is non-nil.
func (a *testAPI) do(t *testing.T, method, path string, signer *party, body any) (*http.Response, map[string]any) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	var req *http.Request
	if signer != nil {
		req = a.signedRequest(t, method, path, *signer, raw, time.Now())
	} else {
		var err error
		req, err = http.NewRequest(method, a.srv.URL+path, bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(t, req)
}

func (a *testAPI) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func (a *testAPI) createLaunch(t *testing.T, creator, oracle party) string {
	t.Helper()
	resp, _ := a.do(t, http.MethodPost, "/accounts/"+string(creator.id)+"/fund", nil, map[string]any{"amount": 1_000_000})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := a.do(t, http.MethodPost, "/campaigns", &creator, map[string]any{
		"budget":                1_000_000,
		"reward_per_engagement": 1_000,
		"goal_engagements":      500,
		"hashtag":               "launch",
		"oracle":                oracle.id,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["address"].(string)
}

func TestCampaignLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle, shiller := newParty(t, 1), newParty(t, 2), newParty(t, 3)

	addr := api.createLaunch(t, creator, oracle)

	resp, body := api.do(t, http.MethodGet, "/campaigns/"+addr, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1_000_000), body["escrow_balance"])
	assert.Equal(t, string(creator.id), body["creator"])

	resp, body = api.do(t, http.MethodPost, "/campaigns/"+addr+"/releases", nil, map[string]any{
		"shiller": shiller.id, "recipient": shiller.id, "engagement_count": 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "CampaignNotComplete", body["error"])

	resp, body = api.do(t, http.MethodPost, "/campaigns/"+addr+"/proofs", &oracle, map[string]any{
		"engagement_count": 500, "reference_id": "post-42",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_complete"])

	resp, body = api.do(t, http.MethodPost, "/campaigns/"+addr+"/releases", nil, map[string]any{
		"shiller": shiller.id, "recipient": shiller.id, "engagement_count": 500,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(500_000), body["reward"])
	assert.Equal(t, float64(500_000), body["budget_remaining"])

	resp, body = api.do(t, http.MethodPost, "/campaigns/"+addr+"/releases", nil, map[string]any{
		"shiller": shiller.id, "recipient": shiller.id, "engagement_count": 600,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "InsufficientBudget", body["error"])

	resp, body = api.do(t, http.MethodGet, "/accounts/"+string(shiller.id)+"/balance", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(500_000), body["balance"])

	resp, body = api.do(t, http.MethodGet, "/campaigns/"+addr+"/proofs", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	proofs := body["data"].([]any)
	require.Len(t, proofs, 1)
	assert.Equal(t, "post-42", proofs[0].(map[string]any)["reference_id"])
}

func TestSetOracleRequiresCreator(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle, stranger := newParty(t, 1), newParty(t, 2), newParty(t, 9)
	addr := api.createLaunch(t, creator, oracle)

	resp, body := api.do(t, http.MethodPut, "/campaigns/"+addr+"/oracle", &stranger, map[string]any{"oracle": stranger.id})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Unauthorized", body["error"])

	resp, body = api.do(t, http.MethodPut, "/campaigns/"+addr+"/oracle", &creator, map[string]any{"oracle": stranger.id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(stranger.id), body["oracle"])

	resp, body = api.do(t, http.MethodPost, "/campaigns/"+addr+"/proofs", &oracle, map[string]any{"engagement_count": 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "UnauthorizedOracle", body["error"])
}

func TestSignatureVerification(t *testing.T) {
	api := newTestAPI(t, true)
	creator, other := newParty(t, 1), newParty(t, 2)
	payload := []byte(`{"budget":1,"reward_per_engagement":1,"goal_engagements":1,"hashtag":"x"}`)

	tests := []struct {
		name   string
		mutate func(req *http.Request)
		status int
	}{
		{"valid", func(*http.Request) {}, http.StatusUnprocessableEntity}, // authenticated, then no funds
		{"no signer", func(req *http.Request) { req.Header.Del(controller.HeaderSigner) }, http.StatusUnauthorized},
		{"no signature", func(req *http.Request) { req.Header.Del(controller.HeaderSignature) }, http.StatusUnauthorized},
		{"malformed signature", func(req *http.Request) { req.Header.Set(controller.HeaderSignature, "zz") }, http.StatusUnauthorized},
		{"no timestamp", func(req *http.Request) { req.Header.Del(controller.HeaderTimestamp) }, http.StatusUnauthorized},
		{"no nonce", func(req *http.Request) { req.Header.Del(controller.HeaderNonce) }, http.StatusUnauthorized},
		{"other nonce", func(req *http.Request) { req.Header.Set(controller.HeaderNonce, uuid.NewString()) }, http.StatusUnauthorized},
		{"claimed by another key", func(req *http.Request) { req.Header.Set(controller.HeaderSigner, string(other.id)) }, http.StatusUnauthorized},
		{"shifted timestamp", func(req *http.Request) {
			ts, _ := strconv.ParseInt(req.Header.Get(controller.HeaderTimestamp), 10, 64)
			req.Header.Set(controller.HeaderTimestamp, strconv.FormatInt(ts+1, 10))
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := api.signedRequest(t, http.MethodPost, "/campaigns", creator, payload, time.Now())
			tt.mutate(req)
			resp, _ := api.send(t, req)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	t.Run("tampered body", func(t *testing.T) {
		req := api.signedRequest(t, http.MethodPost, "/campaigns", creator, payload, time.Now())
		resp, _ := api.resend(t, req, "/campaigns", append([]byte(" "), payload...))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestSignedProofCannotBeReplayed(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle := newParty(t, 1), newParty(t, 2)
	addrA := api.createLaunch(t, creator, oracle)

	resp, _ := api.do(t, http.MethodPost, "/accounts/"+string(creator.id)+"/fund", nil, map[string]any{"amount": 1_000_000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, created := api.do(t, http.MethodPost, "/campaigns", &creator, map[string]any{
		"budget": 1_000_000, "reward_per_engagement": 1_000, "goal_engagements": 500,
		"hashtag": "second", "oracle": oracle.id,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	addrB := created["address"].(string)

	raw := []byte(`{"engagement_count":500,"reference_id":"post-A"}`)
	captured := api.signedRequest(t, http.MethodPost, "/campaigns/"+addrA+"/proofs", oracle, raw, time.Now())
	resp, body := api.resend(t, captured, "/campaigns/"+addrA+"/proofs", raw)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(500), body["engagements_verified"])

	resp, body = api.resend(t, captured, "/campaigns/"+addrA+"/proofs", raw)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "InvalidSignature", body["error"])

	resp, _ = api.resend(t, captured, "/campaigns/"+addrB+"/proofs", raw)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	a, err := api.svc.GetCampaign(context.Background(), model.Address(addrA))
	require.NoError(t, err)
	assert.Equal(t, uint64(500), a.EngagementsVerified)
	b, err := api.svc.GetCampaign(context.Background(), model.Address(addrB))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), b.EngagementsVerified)
	assert.False(t, b.IsComplete)
}

func TestSignedOracleChangeIsBoundToCampaign(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle, next := newParty(t, 1), newParty(t, 2), newParty(t, 3)
	addrA := api.createLaunch(t, creator, oracle)

	resp, _ := api.do(t, http.MethodPost, "/accounts/"+string(creator.id)+"/fund", nil, map[string]any{"amount": 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, created := api.do(t, http.MethodPost, "/campaigns", &creator, map[string]any{
		"budget": 10, "reward_per_engagement": 1, "goal_engagements": 1, "hashtag": "other", "oracle": oracle.id,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	addrB := created["address"].(string)

	raw := []byte(`{"oracle":"` + string(next.id) + `"}`)
	captured := api.signedRequest(t, http.MethodPut, "/campaigns/"+addrA+"/oracle", creator, raw, time.Now())

	// Not yet used on A, but signed for A's path.
	resp, _ = api.resend(t, captured, "/campaigns/"+addrB+"/oracle", raw)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = api.resend(t, captured, "/campaigns/"+addrA+"/oracle", raw)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := api.svc.GetCampaign(context.Background(), model.Address(addrB))
	require.NoError(t, err)
	assert.Equal(t, oracle.id, b.Oracle)
}

func TestSignatureWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier := controller.NewVerifier(time.Minute)
	verifier.Now = func() time.Time { return now }
	api := newTestAPIWithVerifier(t, true, verifier)
	creator := newParty(t, 1)
	payload := []byte(`{"budget":1,"reward_per_engagement":1,"goal_engagements":1,"hashtag":"x"}`)

	for _, tt := range []struct {
		name   string
		at     time.Time
		status int
	}{
		{"fresh", now.Add(-30 * time.Second), http.StatusUnprocessableEntity},
		{"stale", now.Add(-2 * time.Minute), http.StatusUnauthorized},
		{"future", now.Add(2 * time.Minute), http.StatusUnauthorized},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := api.send(t, api.signedRequest(t, http.MethodPost, "/campaigns", creator, payload, tt.at))
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestUnverifiedSignerMode(t *testing.T) {
	api := newTestAPI(t, false)
	creator := newParty(t, 1)
	_, err := api.svc.Fund(context.Background(), creator.id, 10)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/campaigns",
		strings.NewReader(`{"budget":10,"reward_per_engagement":1,"goal_engagements":1,"hashtag":"dev"}`))
	require.NoError(t, err)
	req.Header.Set(controller.HeaderSigner, strings.ToUpper(string(creator.id)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t, true)
	creator := newParty(t, 1)

	tests := []struct {
		name   string
		method string
		path   string
		signer *party
		body   any
		status int
	}{
		{"malformed address", http.MethodGet, "/campaigns/not-hex", nil, nil, http.StatusBadRequest},
		{"unknown campaign", http.MethodGet, "/campaigns/" + strings.Repeat("ab", 32), nil, nil, http.StatusNotFound},
		{"bad creator filter", http.MethodGet, "/campaigns?creator=xyz", nil, nil, http.StatusBadRequest},
		{"bad complete filter", http.MethodGet, "/campaigns?complete=maybe", nil, nil, http.StatusBadRequest},
		{"negative amount", http.MethodPost, "/accounts/" + string(creator.id) + "/fund", nil, map[string]any{"amount": -1}, http.StatusBadRequest},
		{"zero budget", http.MethodPost, "/campaigns", &creator, map[string]any{"budget": 0, "reward_per_engagement": 1, "goal_engagements": 1, "hashtag": "a"}, http.StatusBadRequest},
		{"bad oracle", http.MethodPost, "/campaigns", &creator, map[string]any{"budget": 1, "reward_per_engagement": 1, "goal_engagements": 1, "hashtag": "a", "oracle": "nope"}, http.StatusBadRequest},
		{"bad balance identity", http.MethodGet, "/accounts/nope/balance", nil, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := api.do(t, tt.method, tt.path, tt.signer, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestDuplicateCampaignConflict(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle := newParty(t, 1), newParty(t, 2)
	api.createLaunch(t, creator, oracle)

	resp, body := api.do(t, http.MethodPost, "/campaigns", &creator, map[string]any{
		"budget": 1, "reward_per_engagement": 1, "goal_engagements": 1, "hashtag": "launch",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CampaignExists", body["error"])
}

func TestEnqueueRelease(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle, shiller := newParty(t, 1), newParty(t, 2), newParty(t, 3)
	addr := api.createLaunch(t, creator, oracle)
	_, err := api.svc.SubmitProof(context.Background(), oracle.id, model.Address(addr), 500, "")
	require.NoError(t, err)

	worker := service.NewPayoutWorker(api.svc, nil)
	require.NoError(t, queue.StartReleaseSubscriber(api.queue, "payment_releases", worker.Handle, slog.Default()))

	resp, body := api.do(t, http.MethodPost, "/campaigns/"+addr+"/release-jobs", nil, map[string]any{
		"shiller": shiller.id, "recipient": shiller.id, "engagement_count": 3,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	api.queue.Wait()

	bal, err := api.svc.Balance(context.Background(), shiller.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000), bal)
}

func TestEnqueueReleaseRejectsUnpayableJobs(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle, shiller := newParty(t, 1), newParty(t, 2), newParty(t, 3)
	addr := api.createLaunch(t, creator, oracle)

	resp, body := api.do(t, http.MethodPost, "/campaigns/"+addr+"/release-jobs", nil, map[string]any{
		"shiller": shiller.id, "recipient": "nope", "engagement_count": 1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidInput", body["error"])

	resp, body = api.do(t, http.MethodPost, "/campaigns/"+strings.Repeat("ab", 32)+"/release-jobs", nil, map[string]any{
		"shiller": shiller.id, "recipient": shiller.id, "engagement_count": 1,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "CampaignNotFound", body["error"])
}

func TestOversizedBodyRejected(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle := newParty(t, 1), newParty(t, 2)
	addr := api.createLaunch(t, creator, oracle)
	huge := `{"shiller":"` + strings.Repeat("a", 1<<20+10) + `"}`

	for _, path := range []string{
		"/campaigns/" + addr + "/releases",
		"/campaigns/" + addr + "/release-jobs",
		"/accounts/" + string(creator.id) + "/fund",
	} {
		req, err := http.NewRequest(http.MethodPost, api.srv.URL+path, strings.NewReader(huge))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, body := api.send(t, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode, path)
		assert.Equal(t, "InvalidInput", body["error"], path)
	}
}

func TestCampaignAddressIsCaseInsensitive(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle := newParty(t, 1), newParty(t, 2)
	addr := api.createLaunch(t, creator, oracle)

	resp, body := api.do(t, http.MethodGet, "/campaigns/"+strings.ToUpper(addr), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, addr, body["address"])
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, true)
	creator, oracle := newParty(t, 1), newParty(t, 2)
	api.createLaunch(t, creator, oracle)

	resp, body := api.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(api.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), fmt.Sprintf(`escrow_operations_total{op="%s",result="ok"} 1`, "create_campaign"))
	assert.Contains(t, string(data), "escrow_funds_escrowed_total")
}
