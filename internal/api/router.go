// Package api is the HTTP surface used by the presentation layer and for
// debugging a running tracker.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/ud-ai/InvestmentTracker/internal/domain"
	"github.com/ud-ai/InvestmentTracker/internal/engine"
	"github.com/ud-ai/InvestmentTracker/internal/metrics"
)

// Deps are the components served by the router. Realtime is optional.
type Deps struct {
	Monitor   engine.ConnectionState
	Portfolio *engine.PortfolioAggregator
	Watchlist *engine.WatchlistSyncEngine
	Picker    *engine.AssetPicker
	Writer    *engine.RetryingWriter
	Notices   interface{ Recent() []domain.Notice }
	Realtime  http.Handler // Mounted at /realtime when set
}

type handlers struct {
	Deps
}

// NewRouter builds the chi router.
func NewRouter(d Deps) chi.Router {
	h := &handlers{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", metrics.Handler())

	// Long-lived websocket sessions must not inherit the request timeout.
	if d.Realtime != nil {
		r.Handle("/realtime", d.Realtime)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/portfolio", h.getPortfolio)

			r.Get("/watchlist", h.getWatchlist)
			r.Post("/watchlist", h.addToWatchlist)
			r.Post("/watchlist/refresh", h.refreshWatchlist)

			r.Get("/assets", h.searchAssets)
			r.Get("/assets/{name}/price", h.quoteAsset)

			r.Post("/investments", h.createInvestment)

			r.Get("/notices", h.listNotices)
		})
	})

	return r
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	connected := h.Monitor != nil && h.Monitor.Connected()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connected": connected})
}

type portfolioResponse struct {
	domain.PortfolioSnapshot
	Error string `json:"error,omitempty"`
}

func (h *handlers) getPortfolio(w http.ResponseWriter, r *http.Request) {
	resp := portfolioResponse{PortfolioSnapshot: h.Portfolio.Snapshot()}
	if err := h.Portfolio.LastError(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state": h.Watchlist.State().String(),
		"items": h.Watchlist.Items(),
	})
}

type addWatchRequest struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

func (h *handlers) addToWatchlist(w http.ResponseWriter, r *http.Request) {
	var req addWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" && req.Symbol == "" {
		writeError(w, "id or symbol is required", http.StatusBadRequest)
		return
	}

	assets, err := h.Watchlist.ReferenceAssets(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	asset, ok := findAsset(assets, req)
	if !ok {
		writeError(w, "asset not found", http.StatusNotFound)
		return
	}

	item, added, err := h.Watchlist.Add(r.Context(), asset)
	switch {
	case errors.Is(err, engine.ErrNotLoaded):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, domain.ErrDisposed):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"item": item, "added": added})
}

func findAsset(assets []domain.AssetReference, req addWatchRequest) (domain.AssetReference, bool) {
	for _, a := range assets {
		if req.ID != "" && a.ID == req.ID {
			return a, true
		}
	}
	for _, a := range assets {
		if req.ID == "" && strings.EqualFold(a.Symbol, req.Symbol) {
			return a, true
		}
	}
	return domain.AssetReference{}, false
}

func (h *handlers) refreshWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := h.Watchlist.Refresh(r.Context()); err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.getWatchlist(w, r)
}

func (h *handlers) searchAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Picker.Filter(r.URL.Query().Get("q")))
}

func (h *handlers) quoteAsset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	qty := 1.0
	if raw := r.URL.Query().Get("qty"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			writeError(w, "qty must be a positive number", http.StatusBadRequest)
			return
		}
		qty = v
	}

	unit, err := h.Picker.UnitPrice(r.Context(), name)
	switch {
	case errors.Is(err, domain.ErrAssetNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"unit_price": unit,
		"quantity":   decimal.NewFromFloat(qty),
		"total":      h.Picker.Total(unit, qty),
	})
}

func (h *handlers) createInvestment(w http.ResponseWriter, r *http.Request) {
	var inv domain.Investment
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	key, err := h.Writer.Create(r.Context(), inv)
	if err != nil {
		var ve *domain.ValidationError
		var we *domain.WriteError
		switch {
		case errors.As(err, &ve):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": string(ve.Field)})
		case errors.Is(err, domain.ErrUnavailable):
			writeError(w, err.Error(), http.StatusServiceUnavailable)
		case errors.Is(err, domain.ErrBusy):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.As(err, &we):
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": we.UserMessage(), "kind": we.Kind.String()})
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (h *handlers) listNotices(w http.ResponseWriter, r *http.Request) {
	var notices []domain.Notice
	if h.Notices != nil {
		notices = h.Notices.Recent()
	}
	if notices == nil {
		notices = []domain.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
