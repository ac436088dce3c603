package testutil

import (
	"net/http"

	"custodia/pkg/domain"
	"custodia/pkg/requestcontext"
)

// WithCaller stamps the request context with an authenticated caller, the
// way the auth middleware would for a valid bearer token. Invalid addresses
// are silently ignored so tests can exercise the unauthenticated path.
func WithCaller(req *http.Request, caller string) *http.Request {
	addr, err := domain.ParseAddress(caller)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithCaller(req.Context(), addr))
}

// WithCallerAddress is WithCaller for an already-parsed address.
func WithCallerAddress(req *http.Request, caller domain.Address) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}

// WithRequestID stamps the request context with a request ID.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
