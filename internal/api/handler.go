// Package api serves the administrative HTTP surface of the cache under /caches.
package api

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dhis2/dhis2-core-sub010/internal/apperrors"
	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

// Admin is the cache as seen by the admin surface. It is implemented by *cache.CappedLocalCache and
// by *cluster.Coordinator, which additionally broadcasts invalidations.
type Admin interface {
	Info() models.CacheInfo
	Regions() []string
	RegionInfo(name string) (models.CacheGroupInfo, error)
	CapInfo() models.CacheCapInfo
	UpdateCap(update models.CapUpdate) error
	Invalidate()
	InvalidateRegion(name string)
}

type handler struct {
	admin Admin // Nil when no cache is configured in this deployment.
}

// NewHandler returns the admin HTTP handler. A nil admin is valid: every cache endpoint then fails
// with apperrors.ErrCacheUnavailable while /healthz keeps answering.
func NewHandler(admin Admin, logger zerolog.Logger) http.Handler {
	h := &handler{admin: admin}

	mux := http.NewServeMux()
	route := func(pattern, name string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(name, fn))
	}
	route("GET /caches", "/caches", h.getInfo)
	route("GET /caches/regions", "/caches/regions", h.getRegions)
	route("GET /caches/regions/{region}", "/caches/regions/{region}", h.getRegion)
	route("GET /caches/cap", "/caches/cap", h.getCap)
	route("PUT /caches/cap", "/caches/cap", h.updateCap)
	route("POST /caches/invalidate", "/caches/invalidate", h.invalidate)
	route("POST /caches/regions/{region}/invalidate", "/caches/regions/{region}/invalidate", h.invalidateRegion)
	route("GET /healthz", "/healthz", h.health)

	return chain(mux, logger)
}

// cache returns the configured admin or writes ErrCacheUnavailable.
func (h *handler) cache(w http.ResponseWriter, r *http.Request) (Admin, bool) {
	if h.admin == nil {
		writeError(w, r, apperrors.ErrCacheUnavailable)
		return nil, false
	}
	return h.admin, true
}

func (h *handler) getInfo(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.cache(w, r)
	if !ok {
		return
	}
	condensed := false
	if raw := r.URL.Query().Get("condensed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, &paramError{name: "condensed", value: raw})
			return
		}
		condensed = v
	}

	info := admin.Info()
	if condensed {
		info = info.Condensed()
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) getRegions(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.cache(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, admin.Regions())
}

func (h *handler) getRegion(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.cache(w, r)
	if !ok {
		return
	}
	info, err := admin.RegionInfo(r.PathValue("region"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) getCap(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.cache(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, admin.CapInfo())
}

func (h *handler) updateCap(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.cache(w, r)
	if !ok {
		return
	}

	var update models.CapUpdate
	query := r.URL.Query()
	for _, p := range []struct {
		name   string
		target **int
	}{
		{"heap", &update.Heap},
		{"hard", &update.Hard},
		{"soft", &update.Soft},
	} {
		raw := query.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, &paramError{name: p.name, value: raw})
			return
		}
		*p.target = &v
	}

	if err := admin.UpdateCap(update); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) invalidate(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.cache(w, r)
	if !ok {
		return
	}
	admin.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) invalidateRegion(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.cache(w, r)
	if !ok {
		return
	}
	admin.InvalidateRegion(r.PathValue("region"))
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status  string `json:"status"`
	Cache   string `json:"cache"`
	Version string `json:"version"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Cache: "enabled", Version: versionHeaderValue()}
	if h.admin == nil {
		resp.Cache = "disabled"
	}
	writeJSON(w, http.StatusOK, resp)
}
