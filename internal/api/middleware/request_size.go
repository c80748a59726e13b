package middleware

import (
	"net/http"
)

// FormMaxBodySize bounds the JSON bodies of the auth forms.
const FormMaxBodySize int64 = 16 << 10

// RequestSize caps request bodies at maxBytes. Handlers see an
// *http.MaxBytesError from the body reader once the cap is exceeded.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				w.Header().Set("Connection", "close")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
