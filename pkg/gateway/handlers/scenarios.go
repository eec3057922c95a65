package handlers

import (
	"net/http"

	"github.com/vango-go/vai-agents/pkg/core"
	"github.com/vango-go/vai-agents/pkg/scenarios"
)

type ScenariosHandler struct {
	Scenarios *scenarios.Holder
}

type scenariosResponse struct {
	Scenarios []scenarios.Summary `json:"scenarios"`
}

func (h ScenariosHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	c := h.Scenarios.Load()
	if c == nil {
		writeError(w, r, core.NewConfigurationError("no scenarios loaded"))
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, scenariosResponse{Scenarios: c.Summaries()})
}
