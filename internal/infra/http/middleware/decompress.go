package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openctemio/scanmerge/pkg/apierror"
	"github.com/openctemio/scanmerge/pkg/inflate"
)

// Decompress inflates request bodies sent with Content-Encoding gzip or
// zstd. Output size and expansion ratio are bounded by limits, so the
// middleware goes after BodyLimit, which caps the compressed input.
func Decompress(limits inflate.Limits) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
			enc, err := inflate.ParseEncoding(header)
			if err != nil {
				apierror.UnsupportedEncoding(header).WriteJSON(w)
				return
			}
			if enc == inflate.Identity || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}

			compressed, err := io.ReadAll(r.Body)
			_ = r.Body.Close()
			if err != nil {
				writeBodyError(w, err)
				return
			}

			body, err := inflate.Bytes(compressed, enc, limits)
			if err != nil {
				writeBodyError(w, err)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			r.Header.Del("Content-Encoding")
			r.Header.Set("Content-Length", strconv.Itoa(len(body)))

			next.ServeHTTP(w, r)
		})
	}
}

func writeBodyError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, inflate.ErrTooLarge):
		apierror.PayloadTooLarge("Request body too large").WriteJSON(w)
	case errors.Is(err, inflate.ErrRatio):
		apierror.PayloadTooLarge("Compression ratio exceeds limit").WriteJSON(w)
	default:
		apierror.BadRequest("Failed to decompress request body").WriteJSON(w)
	}
}
