package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/lefinal/vr-arbiter/dispatcher"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/event"
	"github.com/lefinal/vr-arbiter/vr"
	"github.com/lefinal/vr-arbiter/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// API is the part of dispatcher.Dispatcher that is served via HTTP.
type API interface {
	GetDisplays(ctx context.Context) ([]vr.DisplayData, error)
	Stats(ctx context.Context) (dispatcher.Stats, error)
}

// PopulateRoutes populates the WebServer with the routes.
func (server *WebServer) PopulateRoutes(wsCtx context.Context, hub *ws.Hub, api API, gatherer prometheus.Gatherer) {
	// Websocket stuff.
	server.router.HandleFunc("/ws", ws.HandleWS(wsCtx, hub))
	// Metrics.
	server.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	// API stuff.
	apiRouter := server.router.PathPrefix("/api/v1").Subrouter()
	apiRouter.MethodNotAllowedHandler = server.router.MethodNotAllowedHandler
	apiRouter.HandleFunc("/displays", server.handleGetDisplays(api)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/displays/{displayID}", server.handleGetDisplay(api)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats", server.handleGetStats(api)).Methods(http.MethodGet)
}

func (server *WebServer) handleGetDisplays(api API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		displays, err := api.GetDisplays(r.Context())
		if err != nil {
			server.respondError(w, errors.Wrap(err, "get displays", nil))
			return
		}
		server.respondJSON(w, http.StatusOK, displays)
	}
}

func (server *WebServer) handleGetDisplay(api API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		displayIDRaw := mux.Vars(r)["displayID"]
		displayID, err := strconv.ParseUint(displayIDRaw, 10, 32)
		if err != nil {
			server.respondError(w, errors.NewBadRequestError(errors.KindUnknown, "invalid display id",
				errors.Details{"was": displayIDRaw}))
			return
		}
		displays, err := api.GetDisplays(r.Context())
		if err != nil {
			server.respondError(w, errors.Wrap(err, "get displays", nil))
			return
		}
		for _, display := range displays {
			if display.DisplayID == vr.DisplayID(displayID) {
				server.respondJSON(w, http.StatusOK, display)
				return
			}
		}
		server.respondError(w, errors.NewDeviceNotFoundError(displayID))
	}
}

func (server *WebServer) handleGetStats(api API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := api.Stats(r.Context())
		if err != nil {
			server.respondError(w, errors.Wrap(err, "get stats", nil))
			return
		}
		server.respondJSON(w, http.StatusOK, stats)
	}
}

// respondJSON writes the given payload as JSON.
func (server *WebServer) respondJSON(w http.ResponseWriter, status int, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		server.respondError(w, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "marshal response",
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(raw)
	if err != nil {
		server.logger.Debug("write response", zap.Error(err))
	}
}

// respondError logs the error and responds with the matching status code.
func (server *WebServer) respondError(w http.ResponseWriter, err error) {
	errors.Log(server.logger, err)
	server.respondJSON(w, httpStatusFromError(err), event.ErrorEventPayloadFromError(err))
}

// httpStatusFromError maps the errors.Code of the given error to an HTTP
// status code.
func httpStatusFromError(err error) int {
	e, _ := errors.Cast(err)
	switch e.Code {
	case errors.ErrBadRequest, errors.ErrProtocolViolation:
		return http.StatusBadRequest
	case errors.ErrForbidden:
		return http.StatusForbidden
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrAborted:
		return http.StatusRequestTimeout
	case errors.ErrCommunication:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
