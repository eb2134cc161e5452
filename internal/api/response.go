package api

import (
	"encoding/json"
	"net/http"

	"github.com/good-yellow-bee/blazealert/internal/api/middleware"
	"github.com/good-yellow-bee/blazealert/internal/logging"
)

// Response is the envelope for every API response. Error responses carry
// the request id so a client can quote it when reporting a failure.
type Response struct {
	Data      any    `json:"data,omitempty"`
	Error     *Error `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger := logging.WithComponent("http")
		logger.Debug().Err(err).Msg("failed to write response")
	}
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	writeResponse(w, status, Response{Data: data})
}

// JSONError writes err using its status code.
func JSONError(w http.ResponseWriter, r *http.Request, err *Error) {
	resp := Response{Error: err}
	if r != nil {
		resp.RequestID = middleware.GetRequestID(r.Context())
	}
	writeResponse(w, err.Status, resp)
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}
