package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"hawkroute/internal/routing"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func writeCodedProblem(w http.ResponseWriter, status int, title, code, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Code:     code,
		Detail:   detail,
		Instance: instance,
	})
}

func forbidden(w http.ResponseWriter, r *http.Request, detail string) {
	writeCodedProblem(w, http.StatusForbidden, "Forbidden", "forbidden", detail, r.URL.Path)
}

// writeError maps a routing error onto a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	re, ok := routing.AsError(err)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
		return
	}
	status, title := statusFor(re)
	writeJSON(w, status, Problem{
		Type:      "about:blank",
		Title:     title,
		Status:    status,
		Code:      re.Code,
		Detail:    re.Error(),
		Instance:  r.URL.Path,
		Retryable: re.Retryable,
	})
}

func statusFor(re *routing.Error) (int, string) {
	switch re.Kind {
	case routing.KindInput:
		if strings.HasSuffix(re.Code, "_not_found") {
			return http.StatusNotFound, "Not Found"
		}
		return http.StatusBadRequest, "Invalid request"
	case routing.KindOracle:
		return http.StatusBadGateway, "Distance lookup failed"
	case routing.KindInfeasible:
		return http.StatusUnprocessableEntity, "No feasible route"
	case routing.KindPersistence:
		return http.StatusServiceUnavailable, "Storage unavailable"
	}
	return http.StatusInternalServerError, "Internal error"
}
