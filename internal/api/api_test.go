package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppriyankuu-student/causalkv/internal/node"
	"github.com/ppriyankuu-student/causalkv/internal/replication"
	"github.com/ppriyankuu-student/causalkv/internal/telemetry"
	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

func newTestRouter(t *testing.T) (*gin.Engine, *node.Node) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	n := node.New(0, transport.New(0), nil, telemetry.NewMetrics(), false)
	h := NewHandler(n, transport.New(0), replication.New(transport.New(0), nil), telemetry.NewMetrics(), false)
	r := gin.New()
	h.Register(r)
	return r, n
}

func doRequest(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPingReportsNodeID(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Node 0 is up.")
}

func TestDataEndpointsBeforeViewInstallReturn503(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/data/a", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPutThenGetRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t)

	installView(t, r)

	w := doRequest(r, http.MethodPut, "/data/a", map[string]any{"value": "v1"})
	require.Equal(t, http.StatusOK, w.Code)

	var putResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &putResp))
	assert.Equal(t, "value stored", putResp["message"])

	w = doRequest(r, http.MethodGet, "/data/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var getResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &getResp))
	assert.Equal(t, "v1", getResp["value"])
}

func TestPutRejectsMissingValue(t *testing.T) {
	r, _ := newTestRouter(t)
	installView(t, r)

	w := doRequest(r, http.MethodPut, "/data/a", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMissingKeyReturns404(t *testing.T) {
	r, _ := newTestRouter(t)
	installView(t, r)

	w := doRequest(r, http.MethodGet, "/data/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func installView(t *testing.T, r *gin.Engine) {
	t.Helper()
	v := view.View{"shard-0": {{ID: 0, Address: "http://self:8081"}}}
	w := doRequest(r, http.MethodPut, "/view", v)
	require.Equal(t, http.StatusOK, w.Code)
}
