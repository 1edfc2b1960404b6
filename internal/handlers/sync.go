package handlers

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/services"
)

// sync serves one page of a sync round. Failures still answer with a
// SyncResponse so devices can read success and message uniformly.
func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeSyncError(w, err)
		return
	}
	if !sameAgent(w, r, req.AgentID) {
		return
	}
	if claims := claimsFrom(r.Context()); req.DeviceID != claims.DeviceID {
		writeError(w, http.StatusForbidden, "token does not belong to this device")
		return
	}

	resp, err := h.reconciler.Reconcile(r.Context(), &req)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeSyncError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("sync round failed", "err", err)
		message = "sync failed, retry later"
	}
	writeJSON(w, status, &models.SyncResponse{Success: false, Message: message})
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !sameAgent(w, r, id) {
		return
	}
	status, err := h.status.AgentStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) publishCatalog(w http.ResponseWriter, r *http.Request) {
	var req services.PublishCatalogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	item, err := h.content.PublishCatalog(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) putGlobal(w http.ResponseWriter, r *http.Request) {
	var req services.PutGlobalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	entity, err := h.content.PutGlobal(r.Context(), chi.URLParam(r, "category"), chi.URLParam(r, "key"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (h *Handler) getGlobal(w http.ResponseWriter, r *http.Request) {
	entity, err := h.content.GetGlobal(r.Context(), chi.URLParam(r, "category"), chi.URLParam(r, "key"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}
