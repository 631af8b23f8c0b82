package httpapi

import (
	"errors"
	"net/http"

	"github.com/R3E-Network/vault_ledger/internal/httputil"
	"github.com/R3E-Network/vault_ledger/internal/ledger"
)

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindAuthorization:
		return http.StatusForbidden
	case ledger.KindState:
		return http.StatusConflict
	case ledger.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := ledger.CodeOf(err)
	message := err.Error()
	if code == "" {
		code = "internal"
		message = "internal error"
	}

	entry := h.log.WithError(err).WithFields(map[string]interface{}{
		"code":   code,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("ledger operation failed")
	} else {
		entry.Debug("ledger operation rejected")
	}

	// Transfer failures wrap the collaborator's error, which stays in the log.
	var le *ledger.Error
	if errors.As(err, &le) && le.Kind == ledger.KindExternal {
		message = le.Message
	}
	httputil.WriteError(w, status, code, message)
}

func badRequest(w http.ResponseWriter, err error) {
	httputil.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
}
