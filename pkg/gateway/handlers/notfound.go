package handlers

import (
	"net/http"

	"github.com/vango-go/vai-realtime/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mw.WriteJSONError(w, r, http.StatusNotFound, "not_found_error", "not found")
}
