// Package httpx exposes the observability core over HTTP: the query surface,
// the streaming event surface and prometheus instrumentation.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scribehq/scribe/core/internal/domain"
	"github.com/scribehq/scribe/core/internal/ratelimit"
	"github.com/scribehq/scribe/core/internal/repository"
	"github.com/scribehq/scribe/core/internal/service/alert"
	"github.com/scribehq/scribe/core/internal/service/errtrack"
	"github.com/scribehq/scribe/core/internal/service/health"
	"github.com/scribehq/scribe/core/internal/service/metrics"
	"github.com/scribehq/scribe/core/internal/ws"
)

// Router wires HTTP endpoints to the core services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	tracker   *errtrack.Tracker
	monitor   *health.Monitor
	metricAgg *metrics.Aggregator
	engine    *alert.Engine
	hub       *ws.Hub
	archive   repository.Archive
	upgrader  websocket.Upgrader
	limiter   ratelimit.Limiter
	authToken string

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitIngest    = 600
	rateLimitRead      = 120
	rateLimitWrite     = 60
	rateLimitStream    = 30
	sseHeartbeat       = 15 * time.Second
	maxQueryLimit      = 500
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, tracker *errtrack.Tracker, monitor *health.Monitor, metricAgg *metrics.Aggregator, engine *alert.Engine, hub *ws.Hub, archive repository.Archive, limiter ratelimit.Limiter, authToken string) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		tracker:   tracker,
		monitor:   monitor,
		metricAgg: metricAgg,
		engine:    engine,
		hub:       hub,
		archive:   archive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		authToken: strings.TrimSpace(authToken),
	}
	if r.limiter == nil {
		r.limiter = ratelimit.NewMemoryLimiter()
	}
	if r.authToken == "" {
		logger.Warn("api token not configured, query surface is open")
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/v1/system/health", r.audit("/v1/system/health", r.handlerAuthRate("/v1/system/health", rateLimitRead, rateWindowDefault, r.handleSystemHealth)))
	r.mux.HandleFunc("/v1/system/maintenance", r.audit("/v1/system/maintenance", r.handlerAuthRate("/v1/system/maintenance", rateLimitWrite, rateWindowDefault, r.handleMaintenance)))
	r.mux.HandleFunc("/v1/errors", r.audit("/v1/errors", r.handlerAuthRate("/v1/errors", rateLimitIngest, rateWindowDefault, r.handleErrors)))
	r.mux.HandleFunc("/v1/errors/", r.audit("/v1/errors/{id}", r.handlerAuthRate("/v1/errors/{id}", rateLimitRead, rateWindowDefault, r.handleErrorSubroutes)))
	r.mux.HandleFunc("/v1/metrics", r.audit("/v1/metrics", r.handlerAuthRate("/v1/metrics", rateLimitIngest, rateWindowDefault, r.handleMetricIngest)))
	r.mux.HandleFunc("/v1/metrics/", r.audit("/v1/metrics/{key}", r.handlerAuthRate("/v1/metrics/{key}", rateLimitRead, rateWindowDefault, r.handleMetricQuery)))
	r.mux.HandleFunc("/v1/alerts", r.audit("/v1/alerts", r.handlerAuthRate("/v1/alerts", rateLimitWrite, rateWindowDefault, r.handleAlerts)))
	r.mux.HandleFunc("/v1/alerts/", r.audit("/v1/alerts/{id}", r.handlerAuthRate("/v1/alerts/{id}", rateLimitRead, rateWindowDefault, r.handleAlertSubroutes)))
	r.mux.HandleFunc("/v1/stream", r.audit("/v1/stream", r.handlerAuthRate("/v1/stream", rateLimitStream, rateWindowRealtime, r.handleStreamSSE)))
	r.mux.HandleFunc("/v1/stream/ws", r.audit("/v1/stream/ws", r.handlerAuthRate("/v1/stream/ws", rateLimitStream, rateWindowRealtime, r.handleStreamWS)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleSystemHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	overview := r.monitor.SystemHealth()
	code := http.StatusOK
	if overview.Status == domain.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, overview)
}

func (r *Router) handleMaintenance(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Enabled bool   `json:"enabled"`
		By      string `json:"by"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	r.monitor.SetMaintenance(payload.Enabled, payload.By)
	writeJSON(w, http.StatusOK, map[string]any{"maintenance": payload.Enabled})
}

func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		filter, err := parseErrorFilter(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, r.tracker.Query(filter))
	case http.MethodPost:
		var payload struct {
			Type        string            `json:"type"`
			Message     string            `json:"message"`
			Stack       string            `json:"stack"`
			Tags        []string          `json:"tags"`
			Endpoint    string            `json:"endpoint"`
			UserID      string            `json:"user_id"`
			Environment string            `json:"environment"`
			Extra       map[string]string `json:"extra"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(payload.Message) == "" {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}
		id := r.tracker.Track(errtrack.Input{
			Type:    payload.Type,
			Message: payload.Message,
			Stack:   payload.Stack,
			Tags:    payload.Tags,
			Context: domain.ErrorContext{
				Endpoint:    payload.Endpoint,
				UserID:      payload.UserID,
				Environment: payload.Environment,
				Extra:       payload.Extra,
			},
		})
		writeJSON(w, http.StatusAccepted, map[string]string{"error_id": id})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleErrorSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/v1/errors/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	id := parts[0]
	if id == "stats" && len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, r.tracker.Stats())
		return
	}
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		record, ok := r.tracker.Get(id)
		if !ok {
			r.notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case len(parts) == 2 && parts[1] == "resolve":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		var payload struct {
			By string `json:"by"`
		}
		_ = json.NewDecoder(req.Body).Decode(&payload)
		if !r.tracker.Resolve(id, payload.By) {
			r.notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	case len(parts) == 2 && parts[1] == "unresolve":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		if !r.tracker.Unresolve(id) {
			r.notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unresolved"})
	default:
		r.notFound(w)
	}
}

func (r *Router) handleMetricIngest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Key       string  `json:"key"`
		Value     float64 `json:"value"`
		Failed    bool    `json:"failed"`
		Timestamp string  `json:"timestamp"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Key) == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	ts := time.Now().UTC()
	if payload.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timestamp format")
			return
		}
		ts = parsed.UTC()
	}
	r.metricAgg.Record(payload.Key, payload.Value, payload.Failed, ts)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (r *Router) handleMetricQuery(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	key := strings.TrimPrefix(req.URL.Path, "/v1/metrics/")
	if key == "" {
		r.notFound(w)
		return
	}
	if key == "keys" {
		writeJSON(w, http.StatusOK, r.metricAgg.Keys())
		return
	}
	window := 5 * time.Minute
	if raw := req.URL.Query().Get("window"); raw != "" {
		parsed, err := parseWindow(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = parsed
	}
	writeJSON(w, http.StatusOK, r.metricAgg.Aggregate(key, window))
}

func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		status := domain.AlertStatus(req.URL.Query().Get("status"))
		writeJSON(w, http.StatusOK, r.engine.List(status))
	case http.MethodPost:
		var payload struct {
			Title        string            `json:"title"`
			Category     string            `json:"category"`
			Source       string            `json:"source"`
			Severity     string            `json:"severity"`
			Message      string            `json:"message"`
			Occurrences  int64             `json:"occurrences"`
			CustomerTier string            `json:"customer_tier"`
			Labels       map[string]string `json:"labels"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(payload.Title) == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		source := payload.Source
		if source == "" {
			source = "external"
		}
		id, created := r.engine.Create(alert.CreateSpec{Descriptor: domain.AlertDescriptor{
			Title:        payload.Title,
			Category:     payload.Category,
			Source:       source,
			Severity:     domain.Severity(payload.Severity),
			Message:      payload.Message,
			Occurrences:  payload.Occurrences,
			CustomerTier: payload.CustomerTier,
			Labels:       payload.Labels,
		}})
		code := http.StatusCreated
		if !created {
			code = http.StatusOK
		}
		writeJSON(w, code, map[string]any{"alert_id": id, "created": created})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleAlertSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/v1/alerts/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	id := parts[0]
	if id == "stats" && len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, r.engine.Stats())
		return
	}
	if id == "archive" && len(parts) == 1 {
		r.handleAlertArchive(w, req)
		return
	}
	switch {
	case len(parts) == 1:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		record, ok := r.engine.Get(id)
		if !ok {
			r.notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case len(parts) == 2 && parts[1] == "ack":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		var payload struct {
			By string `json:"by"`
		}
		_ = json.NewDecoder(req.Body).Decode(&payload)
		if err := r.engine.Acknowledge(id, payload.By); err != nil {
			r.alertError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	case len(parts) == 2 && parts[1] == "resolve":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		var payload struct {
			By   string `json:"by"`
			Note string `json:"note"`
		}
		_ = json.NewDecoder(req.Body).Decode(&payload)
		if err := r.engine.Resolve(id, payload.By, payload.Note); err != nil {
			r.alertError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	default:
		r.notFound(w)
	}
}

func (r *Router) handleAlertArchive(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "no archive configured")
		return
	}
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	records, err := r.archive.ListArchivedAlerts(req.Context(), limit)
	if err != nil {
		r.logger.Error("failed to list archived alerts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list archived alerts")
		return
	}
	if records == nil {
		records = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": records,
		"count":  len(records),
	})
}

func (r *Router) handleStreamSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	topic := streamTopic(req)
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(topic, client)
	defer func() {
		r.hub.Unregister(topic, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleStreamWS(w http.ResponseWriter, req *http.Request) {
	topic := streamTopic(req)
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func streamTopic(req *http.Request) string {
	switch req.URL.Query().Get("topic") {
	case ws.TopicErrors:
		return ws.TopicErrors
	case ws.TopicHealth:
		return ws.TopicHealth
	case ws.TopicAlerts:
		return ws.TopicAlerts
	default:
		return ws.TopicAll
	}
}

func (r *Router) alertError(w http.ResponseWriter, err error) {
	if errors.Is(err, alert.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusConflict, err.Error())
}

func parseErrorFilter(req *http.Request) (errtrack.Filter, error) {
	query := req.URL.Query()
	filter := errtrack.Filter{
		UserID:   query.Get("user_id"),
		Endpoint: query.Get("endpoint"),
		Search:   query.Get("q"),
	}
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.From = parsed.UTC()
	}
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.To = parsed.UTC()
	}
	for _, severity := range splitParam(query.Get("severity")) {
		filter.Severities = append(filter.Severities, domain.Severity(severity))
	}
	for _, category := range splitParam(query.Get("category")) {
		filter.Categories = append(filter.Categories, domain.ErrorCategory(category))
	}
	if raw := query.Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, err
		}
		filter.Resolved = &resolved
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	filter.Limit = limit
	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset > 0 {
		filter.Offset = offset
	}
	return filter, nil
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseWindow(raw string) (time.Duration, error) {
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
