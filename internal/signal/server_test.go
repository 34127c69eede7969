package signal

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCA = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"

func newTestServer(buffer, rate int, positions func() any, health func() (bool, any)) (*Server, chan *Signal) {
	ch := make(chan *Signal, buffer)
	s := NewServer("127.0.0.1", 0, rate, NewHandler(ch, positions, health))
	s.now = func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) }
	return s, ch
}

func postSignal(t *testing.T, s *Server, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/signal", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, 1000)
	require.NoError(t, err)
	return resp
}

func TestServer_AcceptsSignal(t *testing.T) {
	s, ch := newTestServer(1, 60, nil, nil)

	resp := postSignal(t, s, `{"symbol":" PEPE ","contractAddress":"`+validCA+`","score":16,"priceHint":0.000062,"detectionLatencySeconds":42}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case sig := <-ch:
		assert.Equal(t, "PEPE", sig.Symbol)
		assert.Equal(t, validCA, sig.ContractAddress)
		assert.Equal(t, 16, sig.Score)
		assert.Equal(t, 0.000062, sig.PriceHint)
		assert.Equal(t, 42*time.Second, sig.DetectionLatency())
		assert.Equal(t, 2026, sig.ReceivedAt.Year())
	default:
		t.Fatal("signal not forwarded")
	}
}

func TestServer_RejectsBadPayloads(t *testing.T) {
	s, ch := newTestServer(1, 60, nil, nil)

	for name, body := range map[string]string{
		"malformed":      `{"symbol":`,
		"missing symbol": `{"contractAddress":"` + validCA + `","score":16}`,
		"bad address":    `{"symbol":"PEPE","contractAddress":"not-an-address","score":16}`,
		"negative price": `{"symbol":"PEPE","contractAddress":"` + validCA + `","priceHint":-1}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := postSignal(t, s, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, ch)
}

func TestServer_FullChannel(t *testing.T) {
	s, _ := newTestServer(0, 60, nil, nil)

	resp := postSignal(t, s, `{"symbol":"PEPE","contractAddress":"`+validCA+`","score":16}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_RateLimit(t *testing.T) {
	s, _ := newTestServer(100, 5, nil, nil)
	body := `{"symbol":"PEPE","contractAddress":"` + validCA + `","score":16}`

	limitHit := false
	for i := 0; i < 10; i++ {
		resp := postSignal(t, s, body)
		if resp.StatusCode == http.StatusTooManyRequests {
			limitHit = true
			break
		}
	}
	assert.True(t, limitHit, "rate limit was not hit after 10 requests")
}

func TestServer_Health(t *testing.T) {
	healthy := true
	s, _ := newTestServer(1, 60, nil, func() (bool, any) { return healthy, []string{"rpc"} })

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy = false
	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
}

func TestServer_Positions(t *testing.T) {
	s, _ := newTestServer(1, 60, func() any {
		return []map[string]string{{"contractAddress": validCA}}
	}, nil)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/positions", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(raw, []byte(validCA)))
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(1, 60, nil, nil)
	postSignal(t, s, `{"symbol":"PEPE","contractAddress":"`+validCA+`","score":16}`)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "signal_requests_total")
}
