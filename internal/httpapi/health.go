package httpapi

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/baechuer/mailblast/internal/recovery"
)

type healthHandlerT struct {
	recovery *recovery.Checker
}

type healthResponse struct {
	Status          string `json:"status"`
	RecoveryPending bool   `json:"recoveryPending"`
}

// Health reports process liveness plus the non-destructive
// checkRecoveryNeeded() probe from §4.9.
func (h *healthHandlerT) Health(w http.ResponseWriter, r *http.Request) {
	pending := false
	if h.recovery != nil {
		if needed, err := h.recovery.NeedsRecovery(r.Context()); err == nil {
			pending = needed
		}
	}
	render.JSON(w, r, healthResponse{Status: "ok", RecoveryPending: pending})
}
