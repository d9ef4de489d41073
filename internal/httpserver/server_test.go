package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EchoPBX/energy-bridge/internal/bridge"
	"github.com/EchoPBX/energy-bridge/internal/config"
	"github.com/EchoPBX/energy-bridge/internal/correlate"
	"github.com/EchoPBX/energy-bridge/internal/events"
	"github.com/EchoPBX/energy-bridge/internal/panel"
	"github.com/EchoPBX/energy-bridge/pkg/sdk"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeHost records posts and answers requestAnalysis when answer is set.
type fakeHost struct {
	b      *bridge.Bridge
	answer bool

	mu     sync.Mutex
	posted []sdk.Envelope
}

func (h *fakeHost) Post(_ context.Context, env sdk.Envelope) error {
	h.mu.Lock()
	h.posted = append(h.posted, env)
	h.mu.Unlock()
	if h.answer && env.Type == sdk.RequestAnalysis.Name {
		var req map[string]string
		_ = json.Unmarshal(env.Data, &req)
		go h.b.Dispatch([]byte(`{"type":"analysisResults","data":{"requestId":"` + req["requestId"] + `","summary":{"totalEnergy":42,"mode":"` + req["mode"] + `"}}}`))
	}
	return nil
}

func (h *fakeHost) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *fakeHost) Live() bool   { return true }
func (h *fakeHost) Close() error { return nil }

func (h *fakeHost) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.posted))
	for _, env := range h.posted {
		out = append(out, env.Type)
	}
	return out
}

type fixture struct {
	srv    *Server
	host   *fakeHost
	bridge *bridge.Bridge
	bus    *events.Bus
}

func newFixture(t *testing.T, cfg *config.Config, host sdk.Transport) *fixture {
	t.Helper()
	if cfg == nil {
		var err error
		cfg, err = config.Load("")
		require.NoError(t, err)
	}
	log := zaptest.NewLogger(t)
	b := bridge.New(host, log)
	fh, _ := host.(*fakeHost)
	if fh != nil {
		fh.b = b
	}
	p := panel.New(b, log)
	p.Attach()
	bus := events.NewBus()
	b.Tap(bus.Publish)
	caller := correlate.New(b, log)
	t.Cleanup(func() {
		caller.Close()
		p.Detach()
		bus.Close()
	})

	srv, err := New(cfg, log, Deps{Bridge: b, Panel: p, Caller: caller, Bus: bus})
	require.NoError(t, err)
	return &fixture{srv: srv, host: fh, bridge: b, bus: bus}
}

func (f *fixture) do(t *testing.T, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil, &fakeHost{})
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestInfoReportsHostPresence(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/v1/info", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["hostPresent"])
	assert.Equal(t, "energy-bridge", body["name"])
}

func TestPanelSnapshot(t *testing.T) {
	f := newFixture(t, nil, &fakeHost{})
	f.bridge.Dispatch([]byte(`{"type":"energySummary","data":{"totalEnergy":680.4,"mode":"local"}}`))

	rec := f.do(t, http.MethodGet, "/v1/panel", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var v panel.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.NotNil(t, v.Summary)
	assert.InDelta(t, 680.4, v.Summary.TotalEnergy, 0.001)
	assert.Equal(t, 1, v.Profile.Level)
}

func TestActionsReachHost(t *testing.T) {
	f := newFixture(t, nil, &fakeHost{})

	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/hotspots/3/fix", "", nil).Code)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/open", `{"fileName":"api/fetchData.ts","lineNumber":23}`, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/v1/mode", `{"mode":"cloud"}`, nil).Code)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/analysis", "", nil).Code)

	assert.Equal(t, []string{"fixHotspot", "openFile", "setAnalysisMode", "setState", "requestAnalysis"}, f.host.types())
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t, nil, &fakeHost{})

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/v1/mode", `{"mode":"hybrid"}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/open", `{"lineNumber":3}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/open", `{not json`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/analysis?wait=1", `{"mode":"hybrid"}`, nil).Code)
	assert.Empty(t, f.host.types())
}

func TestAnalysisWaitReturnsCorrelatedResult(t *testing.T) {
	f := newFixture(t, nil, &fakeHost{answer: true})

	rec := f.do(t, http.MethodPost, "/v1/analysis?wait=1", `{"mode":"cloud"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res sdk.AnalysisResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.InDelta(t, 42, res.Summary.TotalEnergy, 0.001)
	assert.Equal(t, sdk.ModeCloud, res.Summary.Mode)
}

func TestAnalysisWaitTimesOut(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Panel.RequestTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, &fakeHost{})

	rec := f.do(t, http.MethodPost, "/v1/analysis?wait=1", `{"mode":"local"}`, nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestAnalysisWaitInMockMode(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/v1/analysis?wait=true", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "dashboard"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "dashboard.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.JWTPublicKeys = []string{path}
	f := newFixture(t, cfg, &fakeHost{})

	tok := gojwt.NewWithClaims(gojwt.SigningMethodRS256, gojwt.MapClaims{"sub": "webview"})
	tok.Header["kid"] = "dashboard"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/panel", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/panel", "", map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/panel", "", map[string]string{"Authorization": "Bearer " + signed}).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/events", "", nil).Code)
}

func TestEventsStreamInboundEnvelopes(t *testing.T) {
	f := newFixture(t, nil, &fakeHost{})
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.bus.Len() == 1 }, time.Second, 5*time.Millisecond)

	f.bridge.Dispatch([]byte(`{"type":"xpGained","data":{"amount":100}}`))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var env sdk.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "xpGained", env.Type)
	assert.JSONEq(t, `{"amount":100}`, string(env.Data))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.bus.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestReloadKeepsValidatorOnBadKeys(t *testing.T) {
	f := newFixture(t, nil, &fakeHost{})
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.JWTPublicKeys = []string{filepath.Join(t.TempDir(), "missing.pem")}

	f.srv.Reload(cfg)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/panel", "", nil).Code)
}
