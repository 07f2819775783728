package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/metaextract/pkg/errors"
	"github.com/matzehuels/metaextract/pkg/observability"
)

func newTestServer(t *testing.T, maxUpload int64) *httptest.Server {
	t.Helper()
	c, _ := testCLI(t)
	c.Config.Interpreter = fakePython(t)
	if maxUpload > 0 {
		c.Config.Serve.MaxUploadBytes = maxUpload
	}

	runner, closeRunner, err := c.newRunner(context.Background())
	require.NoError(t, err)
	t.Cleanup(closeRunner)

	metrics := observability.NewMetrics("test")
	observability.SetHTTPHooks(metrics)
	observability.SetPipelineHooks(metrics)
	t.Cleanup(observability.Reset)

	ts := httptest.NewServer(newServer(runner, c, metrics).routes())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, contentType string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = uuid.Parse(resp.Header.Get(headerRequestID))
	assert.NoError(t, err, "response should carry a generated request ID")

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, 0)
	id := uuid.NewString()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(headerRequestID, id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, id, resp.Header.Get(headerRequestID))

	req.Header.Set(headerRequestID, "not-a-uuid")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEqual(t, "not-a-uuid", resp2.Header.Get(headerRequestID))
}

func TestPostRawArchive(t *testing.T) {
	ts := newTestServer(t, 0)
	archive := sdist(t, "setup()\n")

	resp := post(t, ts.URL+"/v1/metadata", "application/gzip", archive)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "miss", resp.Header.Get("X-Metaextract-Cache"))
	assert.Len(t, resp.Header.Get("X-Metaextract-Sha256"), 64)

	var doc struct {
		Version int            `json:"version"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, []any{"attrs", "requests"}, doc.Data["install_requires"])

	again := post(t, ts.URL+"/v1/metadata", "application/gzip", archive)
	require.Equal(t, http.StatusOK, again.StatusCode)
	assert.Equal(t, "hit", again.Header.Get("X-Metaextract-Cache"))

	fresh := post(t, ts.URL+"/v1/metadata?refresh=true", "application/gzip", archive)
	require.Equal(t, http.StatusOK, fresh.StatusCode)
	assert.Equal(t, "miss", fresh.Header.Get("X-Metaextract-Cache"))
}

func TestPostMultipartYAML(t *testing.T) {
	ts := newTestServer(t, 0)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("archive", "pkg-1.0.tar.gz")
	require.NoError(t, err)
	_, err = fw.Write(sdist(t, "setup()\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := post(t, ts.URL+"/v1/metadata?format=yaml", mw.FormDataContentType(), body.Bytes())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "install_requires:\n")
}

func TestPostErrors(t *testing.T) {
	tests := []struct {
		name      string
		maxUpload int64
		url       string
		body      []byte
		status    int
		code      errors.Code
	}{
		{"empty body", 0, "/v1/metadata", nil, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"bad format", 0, "/v1/metadata?format=xml", []byte("x"), http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"not an archive", 0, "/v1/metadata", []byte("plain text, not an archive"), http.StatusUnsupportedMediaType, errors.ErrCodeUnsupportedArchive},
		{"too large", 16, "/v1/metadata", bytes.Repeat([]byte("x"), 64), http.StatusRequestEntityTooLarge, errors.ErrCodeArchiveTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.maxUpload)
			resp := post(t, ts.URL+tt.url, "application/octet-stream", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, string(tt.code), decodeError(t, resp).Code)
		})
	}
}

func TestPostBuildScriptFailure(t *testing.T) {
	ts := newTestServer(t, 0)

	resp := post(t, ts.URL+"/v1/metadata", "application/gzip", sdist(t, "FAIL\n"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, string(errors.ErrCodeSubprocessFailure), detail.Code)
	assert.Contains(t, detail.Output, "boom")
	require.NotNil(t, detail.ExitCode)
	assert.Equal(t, 3, *detail.ExitCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(b), `test_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, 0)
	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New(errors.ErrCodeInvalidInput, "x"), http.StatusBadRequest},
		{errors.New(errors.ErrCodeArchiveTooLarge, "x"), http.StatusRequestEntityTooLarge},
		{errors.New(errors.ErrCodeUnsupportedArchive, "x"), http.StatusUnsupportedMediaType},
		{errors.New(errors.ErrCodeCorruptArchive, "x"), http.StatusUnprocessableEntity},
		{errors.New(errors.ErrCodeUnsafeArchiveEntry, "x"), http.StatusUnprocessableEntity},
		{errors.New(errors.ErrCodeMissingBuildScript, "x"), http.StatusUnprocessableEntity},
		{errors.New(errors.ErrCodeMalformedOutput, "x"), http.StatusBadGateway},
		{errors.New(errors.ErrCodeSubprocessTimeout, "x"), http.StatusGatewayTimeout},
		{errors.New(errors.ErrCodeInvalidConfig, "x"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", context.Canceled), http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
