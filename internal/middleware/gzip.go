package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

var compressibleTypes = []string{
	"application/json",
	"text/html",
	"text/plain",
}

var compress = chimiddleware.Compress(gzip.DefaultCompression, compressibleTypes...)

// MaxRequestBody ограничивает размер тела запроса после распаковки.
const MaxRequestBody = 1 << 20

// GzipMiddleware распаковывает тело запроса с Content-Encoding: gzip и сжимает ответ,
// если клиент его принимает. Тело запроса ограничено MaxRequestBody байтами после распаковки.
func GzipMiddleware(next http.Handler) http.Handler {
	compressed := compress(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			defer gr.Close()
			r.Body = readCloser{Reader: gr, close: r.Body.Close}
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBody)
		}
		compressed.ServeHTTP(w, r)
	})
}

type readCloser struct {
	io.Reader
	close func() error
}

func (rc readCloser) Close() error {
	return rc.close()
}
