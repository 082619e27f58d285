package response

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/middleware"
)

// Envelope wraps every successful response body
type Envelope struct {
	Result    interface{} `json:"result"`
	RequestID string      `json:"requestId,omitempty"`
}

// WriteResponse writes v with status 200
func WriteResponse(w http.ResponseWriter, r *http.Request, v interface{}) {
	WriteStatus(w, r, http.StatusOK, v)
}

// WriteStatus writes v inside the Envelope with the given status
func WriteStatus(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	writeJSON(w, status, Envelope{
		Result:    v,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// WriteError writes the error envelope with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	if e.StatusCode == 0 {
		e.StatusCode = http.StatusInternalServerError
	}
	writeJSON(w, e.StatusCode, e)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
