// Package api exposes the splitting service over HTTP: one JSON endpoint
// per split request, an optional QR rendering of the result, health, and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/iiooiioo888/cs-pay/internal/controller"
	"github.com/iiooiioo888/cs-pay/internal/engine"
)

// ResultItem is one allocated record as the caller sees it.
type ResultItem struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
	URL   string          `json:"url"`
}

// SplitResponse is the success payload. Decimal fields marshal as quoted
// strings to keep values exact on the wire.
type SplitResponse struct {
	TargetValue decimal.Decimal `json:"target_value"`
	Results     []ResultItem    `json:"results"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Error       decimal.Decimal `json:"error"`
	TxnID       string          `json:"txn_id"`
	FromCache   bool            `json:"from_cache,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server handles split requests over HTTP.
type Server struct {
	ctrl     *controller.Controller
	warmer   *controller.Warmer
	timeout  time.Duration
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics
}

// NewServer builds a server over a controller. The warmer may be nil; when
// present every request's target is noted for background pre-computation.
func NewServer(ctrl *controller.Controller, warmer *controller.Warmer, timeout time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	reg := prometheus.NewRegistry()
	return &Server{
		ctrl:     ctrl,
		warmer:   warmer,
		timeout:  timeout,
		log:      log,
		registry: reg,
		metrics:  newMetrics(reg),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /split/{target}", s.handleSplit)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	target, err := decimal.NewFromString(r.PathValue("target"))
	if err != nil {
		s.metrics.requests.WithLabelValues(outcomeOutOfRange).Inc()
		s.writeError(w, http.StatusBadRequest, "INVALID_TARGET", "target is not a decimal value")
		return
	}

	if s.warmer != nil {
		s.warmer.Note(target)
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.ctrl.Split(ctx, target)
	s.metrics.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.splitError(w, target, err)
		return
	}

	s.metrics.requests.WithLabelValues(outcomeOK).Inc()
	s.metrics.items.Observe(float64(len(res.Items)))
	s.metrics.attempts.Observe(float64(res.Attempts))
	if res.FromCache {
		s.metrics.cacheHits.Inc()
	}

	resp := SplitResponse{
		TargetValue: res.Target,
		Results:     make([]ResultItem, 0, len(res.Items)),
		TotalValue:  res.Total,
		Error:       res.Shortfall,
		TxnID:       res.TxnID,
		FromCache:   res.FromCache,
	}
	for _, item := range res.Items {
		resp.Results = append(resp.Results, ResultItem{
			Name:  item.Name,
			Value: item.Value,
			URL:   item.URL,
		})
	}

	if r.URL.Query().Get("format") == "qr" {
		s.writeQR(w, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) splitError(w http.ResponseWriter, target decimal.Decimal, err error) {
	var se *engine.SplitError
	switch {
	case engine.IsOutOfRange(err):
		s.metrics.requests.WithLabelValues(outcomeOutOfRange).Inc()
		s.writeError(w, http.StatusBadRequest, string(engine.CodeOutOfRange), err.Error())
	case engine.IsNotFound(err):
		s.metrics.requests.WithLabelValues(outcomeNotFound).Inc()
		s.writeError(w, http.StatusNotFound, string(engine.CodeNotFound), err.Error())
	case engine.IsConflict(err):
		s.metrics.requests.WithLabelValues(outcomeConflict).Inc()
		s.writeError(w, http.StatusConflict, string(engine.CodeConflict), err.Error())
	default:
		s.metrics.requests.WithLabelValues(outcomeInternal).Inc()
		s.log.Error("split failed", "target", target.String(), "error", err)
		code := string(engine.CodeInternal)
		if errors.As(err, &se) {
			code = string(se.Code)
		}
		s.writeError(w, http.StatusInternalServerError, code, "internal error")
	}
}

// writeQR renders the response payload as a QR PNG so a handset can scan
// the allocation directly.
func (s *Server) writeQR(w http.ResponseWriter, resp SplitResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, string(engine.CodeInternal), "internal error")
		return
	}
	png, err := qrcode.Encode(string(payload), qrcode.Medium, 512)
	if err != nil {
		s.log.Error("qr encode failed", "txn", resp.TxnID, "error", err)
		s.writeError(w, http.StatusInternalServerError, string(engine.CodeInternal), "internal error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "split_"+resp.TxnID+".png"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		s.log.Warn("qr write failed", "txn", resp.TxnID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]errorResponse{
		"error": {Code: code, Message: message},
	})
}
