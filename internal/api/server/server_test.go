package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bz888/labchain-ml/internal/config"
	"github.com/bz888/labchain-ml/internal/logger"
	"github.com/bz888/labchain-ml/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key"

func testConfig() config.Config {
	return config.Config{
		APIKey:       testKey,
		Port:         config.DefaultPort,
		Env:          config.DefaultEnv,
		MaxBodyBytes: config.DefaultMaxBodyBytes,
	}
}

func newTestServer(t *testing.T, cfg config.Config, opts ...Option) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(cfg, logger.NewNop(), opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

type panicStandardizer struct{}

func (panicStandardizer) Standardize(protocol.Request) (protocol.Result, error) {
	panic("splitter exploded")
}

func TestHealthNeedsNoKey(t *testing.T) {
	ts := newTestServer(t, testConfig())
	resp, body := do(t, http.MethodGet, ts.URL+"/health", "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","service":"ml-server"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestStandardizeScenario(t *testing.T) {
	ts := newTestServer(t, testConfig())
	resp, body := do(t, http.MethodPost, ts.URL+"/predict/standardize",
		`{"rawText":"Mix reagents. Incubate for 10 minutes! Check color?"}`,
		map[string]string{APIKeyHeader: testKey, "Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var res protocol.Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, protocol.Confidence, res.Confidence)
	require.Len(t, res.Protocol.Steps, 3)
	for i, s := range res.Protocol.Steps {
		assert.Equal(t, i, s.Order)
	}
	assert.Equal(t, "Mix reagents", res.Protocol.Steps[0].Content)
	assert.Nil(t, res.Protocol.Metadata.ExperimentID)
}

func TestStandardizeKeyInQuery(t *testing.T) {
	ts := newTestServer(t, testConfig())
	resp, _ := do(t, http.MethodPost, ts.URL+"/predict/standardize?api_key="+testKey, `{"rawText":"One. Two"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStandardizeUnauthorized(t *testing.T) {
	ts := newTestServer(t, testConfig())
	cases := []struct {
		name   string
		url    string
		header map[string]string
		body   string
	}{
		{"no credential", "/predict/standardize", nil, `{"rawText":"Mix. Stir"}`},
		{"wrong header", "/predict/standardize", map[string]string{APIKeyHeader: "nope"}, `{"rawText":"Mix. Stir"}`},
		{"wrong query", "/predict/standardize?api_key=nope", nil, `{"rawText":"Mix. Stir"}`},
		{"wrong header beats good query", "/predict/standardize?api_key=" + testKey, map[string]string{APIKeyHeader: "nope"}, `{}`},
		{"invalid body", "/predict/standardize", nil, `not json`},
		{"empty body", "/predict/standardize", nil, ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, ts.URL+tc.url, tc.body, tc.header)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, string(body))
		})
	}
}

func TestStandardizeRejectsAllWithoutConfiguredKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = ""
	ts := newTestServer(t, cfg)

	resp, _ := do(t, http.MethodPost, ts.URL+"/predict/standardize?api_key=", `{"rawText":"a"}`, map[string]string{APIKeyHeader: ""})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStandardizeEmptyText(t *testing.T) {
	ts := newTestServer(t, testConfig())
	resp, body := do(t, http.MethodPost, ts.URL+"/predict/standardize", `{"rawText":""}`, map[string]string{APIKeyHeader: testKey})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "rawText")
}

func TestStandardizeMalformedJSON(t *testing.T) {
	ts := newTestServer(t, testConfig())
	resp, body := do(t, http.MethodPost, ts.URL+"/predict/standardize", `{"rawText":`, map[string]string{APIKeyHeader: testKey})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var e map[string]string
	require.NoError(t, json.Unmarshal(body, &e))
	assert.NotEmpty(t, e["error"])
}

func TestPanicBecomesServerError(t *testing.T) {
	ts := newTestServer(t, testConfig(), WithStandardizer(panicStandardizer{}))
	resp, body := do(t, http.MethodPost, ts.URL+"/predict/standardize", `{"rawText":"boom"}`, map[string]string{APIKeyHeader: testKey})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"splitter exploded"}`, string(body))

	resp, _ = do(t, http.MethodGet, ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp, body := do(t, http.MethodGet, ts.URL+"/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Not found"}`, string(body))

	resp, body = do(t, http.MethodGet, ts.URL+"/predict/standardize", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, string(body))
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, testConfig())
	resp, _ := do(t, http.MethodGet, ts.URL+"/health", "", map[string]string{RequestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, testConfig())
	resp, _ := do(t, http.MethodOptions, ts.URL+"/predict/standardize", "", map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "content-type,x-api-key",
	})
	assert.Less(t, resp.StatusCode, 300)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(resp.Header.Get("Access-Control-Allow-Headers")), "x-api-key")
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestGzipLargeResponses(t *testing.T) {
	ts := newTestServer(t, testConfig())
	text := strings.Repeat("Pipette the sample into the tube. ", 100)
	body, err := json.Marshal(map[string]string{"rawText": text})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/predict/standardize", strings.NewReader(string(body)))
	require.NoError(t, err)
	req.Header.Set(APIKeyHeader, testKey)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, testConfig())
	do(t, http.MethodPost, ts.URL+"/predict/standardize", `{"rawText":"A. B. C"}`, map[string]string{APIKeyHeader: testKey})
	do(t, http.MethodPost, ts.URL+"/predict/standardize", `{}`, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := string(body)
	assert.Contains(t, out, `mlserver_http_requests_total{method="POST",route="/predict/standardize",status="200"} 1`)
	assert.Contains(t, out, `mlserver_http_requests_total{method="POST",route="/predict/standardize",status="401"} 1`)
	assert.Contains(t, out, "mlserver_protocol_steps_count 1")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(testConfig(), logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}
