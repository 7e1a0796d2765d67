// Package errors defines the gateway's error envelope and the fixed kind
// taxonomy surfaced to the dispatcher and control-plane adapter.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind is one of the fixed error categories the dispatcher and control
// plane recognize and map to an HTTP status.
type Kind string

const (
	NoRouteMatch     Kind = "NoRouteMatch"
	AccessDenied     Kind = "AccessDenied"
	AuthRequired     Kind = "AuthRequired"
	RateLimited      Kind = "RateLimited"
	NoLiveUpstream   Kind = "NoLiveUpstream"
	UpstreamConnect  Kind = "UpstreamConnect"
	UpstreamTimeout  Kind = "UpstreamTimeout"
	UpstreamTLS      Kind = "UpstreamTls"
	UpstreamProtocol Kind = "UpstreamProtocol"
	ClientCancel     Kind = "ClientCancel"
	InternalConfig   Kind = "InternalConfig"
)

// statusForKind is the propagation policy from §7 of the spec: matching,
// access and selection errors become synthetic responses; everything else
// from the upstream path becomes a 500 with the JSON envelope.
var statusForKind = map[Kind]int{
	NoRouteMatch:     http.StatusNotFound,
	AccessDenied:     http.StatusForbidden,
	AuthRequired:     http.StatusUnauthorized,
	RateLimited:      http.StatusTooManyRequests,
	NoLiveUpstream:   http.StatusServiceUnavailable,
	UpstreamConnect:  http.StatusInternalServerError,
	UpstreamTimeout:  http.StatusInternalServerError,
	UpstreamTLS:      http.StatusInternalServerError,
	UpstreamProtocol: http.StatusInternalServerError,
	ClientCancel:     http.StatusInternalServerError,
	InternalConfig:   http.StatusInternalServerError,
}

// GatewayError is the error type threaded through the dispatch pipeline.
type GatewayError struct {
	Kind       Kind
	Message    string
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// Status returns the HTTP status code this error kind maps to.
func (e *GatewayError) Status() int {
	if s, ok := statusForKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// envelope is the wire shape mandated by the spec: {response_code, response_object}.
type envelope struct {
	ResponseCode   int    `json:"response_code"`
	ResponseObject string `json:"response_object"`
}

// WriteJSON writes the fixed {response_code: -1, response_object: "<text>"}
// envelope and the status code implied by the error's Kind.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	json.NewEncoder(w).Encode(envelope{ResponseCode: -1, ResponseObject: e.Error()})
}

// WriteSuccess writes {response_code: 0, response_object: obj} with status 200.
func WriteSuccess(w http.ResponseWriter, obj any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		ResponseCode   int `json:"response_code"`
		ResponseObject any `json:"response_object"`
	}{ResponseCode: 0, ResponseObject: obj})
}

// WriteFailure writes {response_code: -1, response_object: "<text>"} with the given status.
func WriteFailure(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{ResponseCode: -1, ResponseObject: text})
}

// New creates a GatewayError of the given kind.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Wrap wraps an underlying error with a kind and message.
func Wrap(kind Kind, err error, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, underlying: err}
}

// IsGatewayError reports whether err is a *GatewayError.
func IsGatewayError(err error) (*GatewayError, bool) {
	ge, ok := err.(*GatewayError)
	return ge, ok
}
