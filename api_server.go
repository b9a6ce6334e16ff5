package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	ParamNetwork = "network"
	ParamAddress = "address"
	ParamKind    = "kind"
	ParamLimit   = "limit"
	ParamFormat  = "format"

	defaultHistoryLimit = 20
	apiRequestLimit     = 1 << 16
)

var (
	ErrInvalidAddress = errors.New("invalid address")
)

type APIServer interface {
	// Start serves in the background. The channel yields the listen error, if
	// any, and is closed once the server stops.
	Start() <-chan error
	Shutdown(ctx context.Context) error
	Handler() http.Handler
}

type apiServer struct {
	registry   *NetworkRegistry
	dashboards map[string]*Dashboard
	history    *HistoryStore
	conf       *APIConf
	refresh    time.Duration
	server     *http.Server
}

func NewAPIServer(registry *NetworkRegistry, dashboards map[string]*Dashboard, history *HistoryStore, conf *APIConf, refresh time.Duration) APIServer {
	a := &apiServer{
		registry:   registry,
		dashboards: dashboards,
		history:    history,
		conf:       conf,
		refresh:    refresh,
	}
	a.server = &http.Server{
		Addr:              conf.Listen,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

func (a *apiServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/networks", a.HandlerNetworks)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/{network}", func(r chi.Router) {
		r.Get("/dashboard", a.HandlerDashboard)
		r.Get("/users/{address}", a.HandlerUser)
		r.Get("/repayment/{address}", a.HandlerRepayment)
		r.Get("/balances/{address}", a.HandlerBalances)
		r.Get("/stats", a.HandlerStats)
		r.Get("/price", a.HandlerPrice)
		r.Get("/rates", a.HandlerRates)
		r.Get("/history", a.HandlerHistory)
		r.Get("/notifications", a.HandlerNotifications)
		r.Post("/tx/{kind}", a.HandlerSubmit)
	})
	return r
}

func (a *apiServer) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		Log.Info("api server listening", zap.String("addr", a.server.Addr))
		err := a.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	return errc
}

func (a *apiServer) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Log.Warn("write response err", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps client side failures to 4xx; everything else came from the chain or wallet.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownNetwork), errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrUnknownTxKind),
		errors.Is(err, ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrWrongNetwork), errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (a *apiServer) dashboard(r *http.Request) (*Dashboard, error) {
	key := chi.URLParam(r, ParamNetwork)
	n, err := a.registry.Find(key)
	if err != nil {
		return nil, err
	}
	d, ok := a.dashboards[n.Key]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not served", ErrUnknownNetwork, key)
	}
	return d, nil
}

func addressParam(r *http.Request) (common.Address, error) {
	s := chi.URLParam(r, ParamAddress)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

type networkView struct {
	*Network
	ChainIDHex string `json:"chainIdHex"`
	Served     bool   `json:"served"`
}

func (a *apiServer) HandlerNetworks(w http.ResponseWriter, r *http.Request) {
	networks := a.registry.Networks()
	views := make([]networkView, 0, len(networks))
	for _, n := range networks {
		_, served := a.dashboards[n.Key]
		views = append(views, networkView{Network: n, ChainIDHex: n.ChainIDHex(), Served: served})
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *apiServer) HandlerDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := a.dashboard(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	snapshot := d.Snapshot()
	if r.URL.Query().Get(ParamFormat) != "html" {
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	network := d.Service().Network()
	var history []*TxRecord
	if a.history != nil {
		if history, err = a.history.List(network.Key, defaultHistoryLimit); err != nil {
			Log.Warn("history list err", zap.Error(err))
		}
	}
	htmlStr, err := RenderDashboard(network, snapshot, history, d.Notifications(), a.refresh)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("render error"))
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(htmlStr))
}

// addressHandler resolves the dashboard and address path parameters before calling fn.
func (a *apiServer) addressHandler(fn func(ctx context.Context, s *ContractService, addr common.Address) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := a.dashboard(r)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		addr, err := addressParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		v, err := fn(r.Context(), d.Service(), addr)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (a *apiServer) serviceHandler(fn func(ctx context.Context, s *ContractService) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := a.dashboard(r)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		v, err := fn(r.Context(), d.Service())
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (a *apiServer) HandlerUser(w http.ResponseWriter, r *http.Request) {
	a.addressHandler(func(ctx context.Context, s *ContractService, addr common.Address) (interface{}, error) {
		return s.UserData(ctx, addr)
	})(w, r)
}

func (a *apiServer) HandlerRepayment(w http.ResponseWriter, r *http.Request) {
	a.addressHandler(func(ctx context.Context, s *ContractService, addr common.Address) (interface{}, error) {
		return s.RepaymentDetails(ctx, addr)
	})(w, r)
}

func (a *apiServer) HandlerBalances(w http.ResponseWriter, r *http.Request) {
	a.addressHandler(func(ctx context.Context, s *ContractService, addr common.Address) (interface{}, error) {
		return s.Balances(ctx, addr)
	})(w, r)
}

func (a *apiServer) HandlerStats(w http.ResponseWriter, r *http.Request) {
	a.serviceHandler(func(ctx context.Context, s *ContractService) (interface{}, error) {
		return s.PlatformStats(ctx)
	})(w, r)
}

func (a *apiServer) HandlerPrice(w http.ResponseWriter, r *http.Request) {
	a.serviceHandler(func(ctx context.Context, s *ContractService) (interface{}, error) {
		price, err := s.OraclePrice(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"price": price}, nil
	})(w, r)
}

func (a *apiServer) HandlerRates(w http.ResponseWriter, r *http.Request) {
	a.serviceHandler(func(ctx context.Context, s *ContractService) (interface{}, error) {
		return s.Rates(ctx)
	})(w, r)
}

func (a *apiServer) HandlerHistory(w http.ResponseWriter, r *http.Request) {
	d, err := a.dashboard(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get(ParamLimit); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", s))
			return
		}
	}

	records := make([]*TxRecord, 0)
	if a.history != nil {
		if records, err = a.history.List(d.Service().Network().Key, limit); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *apiServer) HandlerNotifications(w http.ResponseWriter, r *http.Request) {
	d, err := a.dashboard(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d.Notifications())
}

type submitRequest struct {
	Amount string `json:"amount"`
}

func (a *apiServer) HandlerSubmit(w http.ResponseWriter, r *http.Request) {
	d, err := a.dashboard(r)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	kind, err := ParseTxKind(chi.URLParam(r, ParamKind))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := &submitRequest{}
	if err = json.NewDecoder(io.LimitReader(r.Body, apiRequestLimit)).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	record, err := d.Submit(r.Context(), kind, req.Amount)
	if err != nil {
		if record != nil {
			writeJSON(w, errorStatus(err), map[string]interface{}{"error": err.Error(), "record": record})
			return
		}
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
