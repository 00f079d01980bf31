// Package header defines the canonical envelope header names the gateway
// injects into upstream requests, and the static allow-list governing which
// inbound headers may ever reach the upstream unmodified.
package header

import (
	"net/http"

	"github.com/sessiongate/gateway/internal/session"
)

// Envelope header names, derived exclusively from the validated session
// record. Inbound values for these names are always overwritten, never
// merged.
const (
	UserDocumentNumber = "userDocumentNumber"
	UserEmail          = "userEmail"
	UserName           = "userName"
	FundID             = "fundId"
	FundName           = "fundName"
	Partner            = "partner"
	SessionID          = "sessionId"
	RelationshipID     = "relationshipId"
	ContractNumber     = "contractNumber"
	UserPermissions    = "userPermissions"
)

// CorrelationID is the correlation-id header name, forwarded both inbound
// and outbound.
const CorrelationID = "X-Correlation-ID"

// allowList is the static set of inbound headers that may be forwarded to
// the upstream verbatim. Anything not on this set is stripped.
var allowList = map[string]struct{}{
	"Accept":            {},
	"Accept-Charset":    {},
	"Accept-Encoding":   {},
	"Accept-Language":   {},
	"Content-Length":    {},
	"Content-Type":      {},
	"X-Correlation-Id":  {},
	"X-Trace-Id":        {},
	"X-Request-Id":      {},
	"X-Span-Id":         {},
	"X-Client-Version":  {},
	"X-Api-Version":     {},
	"If-Modified-Since": {},
	"If-None-Match":     {},
	"Cache-Control":     {},
}

// Allowed reports whether the canonical form of name is on the inbound
// allow-list.
func Allowed(name string) bool {
	_, ok := allowList[http.CanonicalHeaderKey(name)]
	return ok
}

// Filter strips every header not on the allow-list from h, in place.
func Filter(h http.Header) {
	for name := range h {
		if !Allowed(name) {
			h.Del(name)
		}
	}
}

// Build maps a validated session record to its envelope headers.
func Build(rec *session.Record) http.Header {
	h := make(http.Header)
	for k, v := range rec.ToHeaders() {
		h.Set(k, v)
	}
	return h
}

// Apply filters req's headers to the allow-list, then sets every envelope
// header derived from rec, overwriting any inbound value for those names.
// This is the header-rewrite contract of §4.1/§4.9 step 10.
func Apply(req *http.Request, rec *session.Record) {
	Filter(req.Header)
	for k, v := range Build(rec) {
		req.Header[k] = v
	}
}
