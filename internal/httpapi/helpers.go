package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/render"
)

type errorBody struct {
	Error string `json:"error"`
}

func errResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Error: message})
}

func paginationParams(r *http.Request) (offset, limit int) {
	offset = 0
	limit = 100

	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return offset, limit
}
