// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
	"github.com/NyaDerator/DiscordBridgeMC/internal/validation"
)

// Error codes produced by the API itself.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnavailable  = "UNAVAILABLE"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	RequestID   string            `json:"request_id,omitempty"`
	Code        string            `json:"code"`
	Reason      string            `json:"reason"`
	Stage       string            `json:"stage,omitempty"`
	RemainingMS int64             `json:"remaining_ms,omitempty"`
	Output      string            `json:"output,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case gateway.CodeForbidden, gateway.CodeFilteredCommand, gateway.CodeFilteredActor:
		return http.StatusForbidden
	case gateway.CodeOutOfRange:
		return http.StatusUnprocessableEntity
	case gateway.CodeOnCooldown, gateway.CodeGlobalOnCooldown, CodeRateLimited:
		return http.StatusTooManyRequests
	case gateway.CodeActorNotFound:
		return http.StatusNotFound
	case gateway.CodeExecutionFailed:
		return http.StatusBadGateway
	case validation.CodeValidationFailed, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// retryAfter formats d as whole seconds, rounded up, for a Retry-After header.
func retryAfter(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

// writeError renders err with the status its code maps to.
func writeError(w http.ResponseWriter, err error) {
	code := gateway.Code(err)
	if code == "" {
		code = gateway.CodeInternalError
	}

	resp := ErrorResponse{Code: code, Reason: reasonFor(code, err)}
	if code == validation.CodeValidationFailed {
		resp.Fields = validation.Fields(err)
	}
	writeJSON(w, StatusFor(code), resp)
}

func reasonFor(code string, err error) string {
	switch code {
	case CodeUnauthorized, CodeRateLimited, CodeBadRequest, CodeUnavailable,
		validation.CodeValidationFailed:
		return err.Error()
	default:
		return gateway.Reason(err)
	}
}
