package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler возвращает тело запроса с заданным Content-Type.
func echoHandler(contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

func gzipBytes(t *testing.T, s string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(res.Body)
		require.NoError(t, err)
		defer gr.Close()
		r = gr
	}
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(body)
}

func TestGzipMiddleware(t *testing.T) {
	const order = `{"catalog_item_id":3,"notes":"for the wormhole fleet"}`

	tests := []struct {
		name            string
		responseType    string
		acceptEncoding  string
		compressRequest bool
		wantEncoding    string
	}{
		{
			name:           "json response compressed for gzip client",
			responseType:   "application/json",
			acceptEncoding: "gzip",
			wantEncoding:   "gzip",
		},
		{
			name:         "plain client gets identity response",
			responseType: "application/json",
			wantEncoding: "",
		},
		{
			name:           "binary content type is left alone",
			responseType:   "image/png",
			acceptEncoding: "gzip",
			wantEncoding:   "",
		},
		{
			name:            "gzip request body is inflated",
			responseType:    "text/plain",
			acceptEncoding:  "gzip",
			compressRequest: true,
			wantEncoding:    "gzip",
		},
		{
			name:            "gzip request body with identity response",
			responseType:    "application/json",
			compressRequest: true,
			wantEncoding:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(order)
			if tt.compressRequest {
				body = gzipBytes(t, order)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/orders", body)
			req.Header.Set("Content-Type", "application/json")
			if tt.compressRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}

			rec := httptest.NewRecorder()
			GzipMiddleware(echoHandler(tt.responseType)).ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			require.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, tt.responseType, res.Header.Get("Content-Type"))
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))
			assert.Equal(t, order, readBody(t, res))
		})
	}
}

func TestGzipMiddleware_MalformedBody(t *testing.T) {
	called := false
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("not gzip at all"))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestGzipMiddleware_LimitsInflatedBody(t *testing.T) {
	// Несколько килобайт сжатых нулей распаковываются в тело больше лимита.
	bomb := gzipBytes(t, strings.Repeat("0", MaxRequestBody+1024))
	require.Less(t, bomb.Len(), MaxRequestBody/10)

	var readErr error
	var read int64
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		read, readErr = io.Copy(io.Discard, r.Body)
		if readErr != nil {
			http.Error(w, readErr.Error(), http.StatusRequestEntityTooLarge)
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bomb)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var tooLarge *http.MaxBytesError
	require.ErrorAs(t, readErr, &tooLarge)
	assert.Equal(t, int64(MaxRequestBody), read)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
