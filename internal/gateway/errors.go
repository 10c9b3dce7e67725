package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nodevault/custodian/internal/apperrors"
)

var (
	errUnauthorized     = fmt.Errorf("unauthorised")
	errPermissionDenied = fmt.Errorf("forbidden")
	errRateLimited      = fmt.Errorf("rate limit exceeded")
	errUnexpected       = fmt.Errorf("internal error")
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeAppError maps an *apperrors.Error to its taxonomy HTTP status,
// falling back to 500 for anything else.
func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, apperrors.HTTPStatus(err), err)
}
