// Package httpapi implements spec.md §6's inbound HTTP surface: a thin
// handler layer translating query/body parameters into calls against the
// core orchestrators, store, and quota coordinator, and wrapping every
// response in the success/error envelope.
//
// Grounded on the teacher's handler.go (stdlib http.ServeMux + Go 1.22
// path patterns, a (*handler) error(w, err) helper keyed off a statusErr
// type) and main.go's chi middleware chain (stampede request coalescing,
// RequestSize, RedirectSlashes, RequestID, Recoverer), generalized from
// that teacher's work/book/author resource routes to this system's
// search/stats/quota/crosswalk/enrichment routes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5/middleware"
)

// Meta accompanies every envelope, success or error.
type Meta struct {
	RequestID string `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMS int64     `json:"latencyMs,omitempty"`
}

func newMeta(r *http.Request, start time.Time) Meta {
	return Meta{
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: time.Now().UTC(),
		LatencyMS: time.Since(start).Milliseconds(),
	}
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    Meta `json:"meta"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
	Meta    Meta        `json:"meta"`
}

func writeData(w http.ResponseWriter, r *http.Request, start time.Time, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data, Meta: newMeta(r, start)})
}

func writeErr(w http.ResponseWriter, r *http.Request, start time.Time, err error, details any) {
	status := statusForErr(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(errorEnvelope{
		Success: false,
		Error: errorDetail{
			Code:    codeForErr(err),
			Message: err.Error(),
			Details: details,
		},
		Meta: newMeta(r, start),
	})
}
