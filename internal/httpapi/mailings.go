package httpapi

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/baechuer/mailblast/internal/apperrors"
	"github.com/baechuer/mailblast/internal/broker/rabbitmq"
	"github.com/baechuer/mailblast/internal/intake"
	"github.com/baechuer/mailblast/internal/repository"
)

type mailingHandler struct {
	writer      *intake.Writer
	mailings    *repository.MailingRepository
	entries     *repository.EntryRepository
	deadLetters *repository.DeadLetterRepository
}

type createMailingResponse struct {
	MailingID       string `json:"mailingId"`
	OutboxMessageID string `json:"outboxMessageId"`
}

// Create accepts a multipart CSV upload under the "file" field and a
// required "filename" field, runs it through the Job Intake & Outbox
// Writer (§4.1), and returns the resulting identifiers.
func (h *mailingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		errResponse(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}

	filename := r.FormValue("filename")
	if filename == "" {
		errResponse(w, r, http.StatusBadRequest, "filename is required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		errResponse(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, 256<<20))
	if err != nil {
		errResponse(w, r, http.StatusBadRequest, "failed reading uploaded file")
		return
	}

	result, err := h.writer.Submit(r.Context(), filename, data, rabbitmq.QueueMain)
	if err != nil {
		if ae := apperrors.As(err); ae.Code == apperrors.CodeDuplicateJob {
			errResponse(w, r, http.StatusConflict, ae.Error())
			return
		}
		errResponse(w, r, http.StatusInternalServerError, "failed to accept mailing")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, createMailingResponse{
		MailingID:       result.MailingID.String(),
		OutboxMessageID: result.OutboxMessageID.String(),
	})
}

type mailingStatusResponse struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	Status         string `json:"status"`
	TotalLines     int    `json:"totalLines"`
	ProcessedLines int    `json:"processedLines"`
	Attempts       int    `json:"attempts"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// Get returns a mailing's current status and progress.
func (h *mailingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "mailingID"))
	if err != nil {
		errResponse(w, r, http.StatusBadRequest, "invalid mailing id")
		return
	}

	m, err := h.mailings.GetByID(r.Context(), id)
	if err != nil {
		errResponse(w, r, http.StatusInternalServerError, "failed loading mailing")
		return
	}
	if m == nil {
		errResponse(w, r, http.StatusNotFound, "mailing not found")
		return
	}

	render.JSON(w, r, mailingStatusResponse{
		ID:             m.ID.String(),
		Filename:       m.Filename,
		Status:         string(m.Status),
		TotalLines:     m.TotalLines,
		ProcessedLines: m.ProcessedLines,
		Attempts:       m.Attempts,
		ErrorMessage:   m.ErrorMessage,
	})
}

type entryResponse struct {
	Email         string `json:"email"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	ExternalID    string `json:"externalId,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// ListEntries paginates through a mailing's per-recipient results.
func (h *mailingHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "mailingID"))
	if err != nil {
		errResponse(w, r, http.StatusBadRequest, "invalid mailing id")
		return
	}

	offset, limit := paginationParams(r)

	entries, err := h.entries.ListByMailing(r.Context(), id, offset, limit)
	if err != nil {
		errResponse(w, r, http.StatusInternalServerError, "failed loading entries")
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			Email:         e.Email,
			Status:        string(e.Status),
			Attempts:      e.Attempts,
			ExternalID:    e.ExternalID,
			InvalidReason: string(e.InvalidReason),
		})
	}

	render.JSON(w, r, out)
}
