package httptransport_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridpass/internal/eventstore/memory"
	"gridpass/internal/outbox"
	"gridpass/internal/permission"
	"gridpass/internal/permission/service"
	"gridpass/internal/platform/logger"
	"gridpass/internal/platform/metrics"
	"gridpass/internal/registry"
	"gridpass/internal/timeframe"
	httptransport "gridpass/internal/transport/http"
)

var now = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := memory.New()
	bus := outbox.NewBus(log, m)
	t.Cleanup(bus.Close)
	ob := outbox.New(store, bus, m, log)
	projector := permission.NewProjector(log)

	svc := service.New(store, ob, projector, registry.Default(), m, log,
		service.WithClock(func() time.Time { return now }))
	handler := httptransport.NewHandler(svc, timeframe.NewService(store), log)
	srv := httptest.NewServer(httptransport.NewRouter(handler, reg, log))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body map[string]any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createPermission(t *testing.T, srv *httptest.Server, correlationID string) permission.Projection {
	t.Helper()
	resp := postJSON(t, srv.URL+"/permissions", map[string]any{
		"connectorId":   "at-eda",
		"connectionId":  "conn-1",
		"dataNeedId":    "need-1",
		"correlationId": correlationID,
		"dataFrom":      "2026-01-01",
		"dataTo":        "2026-01-31",
		"granularity":   "PT1H",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var proj permission.Projection
	decode(t, resp, &proj)
	return proj
}

func TestCreatePermission(t *testing.T) {
	srv := newServer(t)

	proj := createPermission(t, srv, "corr-1")
	assert.NotEmpty(t, proj.PermissionID)
	assert.Equal(t, permission.StatusValidated, proj.Status)
}

func TestCreateRejectsBadDates(t *testing.T) {
	srv := newServer(t)

	resp := postJSON(t, srv.URL+"/permissions", map[string]any{
		"connectorId": "at-eda",
		"dataFrom":    "January 1st",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/permissions", map[string]any{
		"connectorId": "at-eda",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateUnknownConnectorAnswers404(t *testing.T) {
	srv := newServer(t)

	resp := postJSON(t, srv.URL+"/permissions", map[string]any{
		"connectorId": "xx-nowhere",
		"dataFrom":    "2026-01-01",
		"dataTo":      "2026-01-31",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetPermission(t *testing.T) {
	srv := newServer(t)
	proj := createPermission(t, srv, "corr-1")

	resp, err := http.Get(srv.URL + "/permissions/" + proj.PermissionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got permission.Projection
	decode(t, resp, &got)
	assert.Equal(t, proj.PermissionID, got.PermissionID)
	assert.Equal(t, permission.StatusValidated, got.Status)

	resp, err = http.Get(srv.URL + "/permissions/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLifecycleOverHTTP(t *testing.T) {
	srv := newServer(t)
	proj := createPermission(t, srv, "corr-1")
	base := srv.URL + "/permissions/" + proj.PermissionID

	resp := postJSON(t, base+"/send", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/callbacks/corr-1", map[string]any{
		"outcome": "ACCEPTED",
		"message": "granted",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var callback map[string]string
	decode(t, resp, &callback)
	assert.Equal(t, proj.PermissionID, callback["permissionId"])

	resp = postJSON(t, base+"/data-received", map[string]any{
		"meterId": "meter-1",
		"start":   "2026-01-01",
		"end":     "2026-01-15",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	respGet, err := http.Get(base + "/timeframes")
	require.NoError(t, err)
	defer respGet.Body.Close()
	require.Equal(t, http.StatusOK, respGet.StatusCode)
	var frames []timeframe.MeterReadingTimeframe
	decode(t, respGet, &frames)
	require.Len(t, frames, 1)
	assert.Equal(t, time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), frames[0].End)

	resp = postJSON(t, base+"/revoke", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	respGet, err = http.Get(base)
	require.NoError(t, err)
	defer respGet.Body.Close()
	var got permission.Projection
	decode(t, respGet, &got)
	assert.Equal(t, permission.StatusRevoked, got.Status)
}

func TestIllegalTransitionAnswers409(t *testing.T) {
	srv := newServer(t)
	proj := createPermission(t, srv, "corr-1")

	// Revoke requires Accepted; a freshly validated request refuses it.
	resp := postJSON(t, srv.URL+"/permissions/"+proj.PermissionID+"/revoke", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCallbackUnknownCorrelationAnswers404(t *testing.T) {
	srv := newServer(t)

	resp := postJSON(t, srv.URL+"/callbacks/corr-unknown", map[string]any{
		"outcome": "ACCEPTED",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsEndpoint(t *testing.T) {
	srv := newServer(t)
	proj := createPermission(t, srv, "corr-1")

	resp, err := http.Get(fmt.Sprintf("%s/permissions/%s/events", srv.URL, proj.PermissionID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []struct {
		Seq  int64  `json:"seq"`
		Kind string `json:"kind"`
	}
	decode(t, resp, &events)
	require.Len(t, events, 2)
	assert.Equal(t, "CREATED", events[0].Kind)
	assert.Equal(t, "VALIDATED", events[1].Kind)
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(t)
	createPermission(t, srv, "corr-1")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
