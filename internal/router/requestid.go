package router

import (
	"net/http"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// withRequestID assigns every request an X-Request-ID, trusting an
// inbound value if the client already set one, sets it on the request
// headers seen by the handler, and echoes it on the response. Modeled on
// wudi-gateway's middleware.RequestID, without its variables-pool
// plumbing since chlb has no per-request variable context to recycle.
func withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		r.Header.Set(requestIDHeader, id)
		w.Header().Set(requestIDHeader, id)
		next(w, r)
	}
}
