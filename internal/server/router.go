package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/l0p7/domainscout/internal/opportunity"
	"github.com/l0p7/domainscout/internal/runtime"
	"github.com/l0p7/domainscout/internal/runtime/scoring"
	"github.com/l0p7/domainscout/internal/sources"
	"github.com/l0p7/domainscout/internal/sources/asn"
	"github.com/l0p7/domainscout/internal/sources/whois"
	"github.com/l0p7/domainscout/internal/storage"
)

const maxBodyBytes = 1 << 20

// Batcher runs batches and single-domain analyses.
type Batcher interface {
	Run(ctx context.Context, req runtime.BatchRequest) (runtime.Summary, error)
	Analyze(ctx context.Context, domain string, force bool) (runtime.ItemResult, error)
	DefaultRequest() runtime.BatchRequest
}

// Backlog is the subset of the opportunity store the router writes through.
type Backlog interface {
	Track(ctx context.Context, opp opportunity.Opportunity) (bool, error)
	Get(ctx context.Context, name string) (opportunity.Opportunity, error)
	MarkPurchased(ctx context.Context, name string, now time.Time) (opportunity.Opportunity, error)
}

// Lookups answers cached registry and whois queries.
type Lookups interface {
	ASN(ctx context.Context, number int) (asn.Entity, bool, error)
	Prefixes(ctx context.Context, number int) (asn.Prefixes, bool, error)
	Peers(ctx context.Context, number int) (asn.Peers, bool, error)
	Search(ctx context.Context, term string) (asn.SearchResult, bool, error)
	Whois(ctx context.Context, domain string) (whois.Record, bool, error)
}

// Deps wires the router. A nil Lookups disables the lookup routes and a nil
// Metrics handler disables /metrics.
type Deps struct {
	Batcher Batcher
	Backlog Backlog
	Lookups Lookups
	Metrics http.Handler
	Logger  *slog.Logger
	Now     func() time.Time
}

type api struct {
	Deps
}

// NewRouter builds the HTTP surface.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	a := &api{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Post("/batch", a.handleBatch)
	r.Route("/opportunities", func(r chi.Router) {
		r.Post("/", a.handleTrack)
		r.Get("/{domain}", a.handleGet)
		r.Post("/{domain}/analyze", a.handleAnalyze)
		r.Post("/{domain}/purchase", a.handlePurchase)
	})

	if deps.Lookups != nil {
		r.Route("/asn", func(r chi.Router) {
			r.Get("/search", a.handleASNSearch)
			r.Get("/{asn}", a.handleASN)
			r.Get("/{asn}/prefixes", a.handleASNPrefixes)
			r.Get("/{asn}/peers", a.handleASNPeers)
		})
		r.Get("/whois/{domain}", a.handleWhois)
	}
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Logger.DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Duration("latency", time.Since(start)),
		)
	})
}

type batchRequest struct {
	BatchSize   int      `json:"batch_size"`
	DelayMS     int      `json:"delay_ms"`
	EnrichFirst *bool    `json:"enrich_first"`
	Domains     []string `json:"domains"`
	Force       bool     `json:"force"`
}

func (a *api) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.BatchSize < 0 || body.DelayMS < 0 {
		writeError(w, http.StatusBadRequest, "batch_size and delay_ms must not be negative")
		return
	}

	req := a.Batcher.DefaultRequest()
	if body.BatchSize > 0 {
		req.Size = body.BatchSize
	}
	if body.DelayMS > 0 {
		req.Delay = time.Duration(body.DelayMS) * time.Millisecond
	}
	if body.EnrichFirst != nil {
		req.EnrichFirst = *body.EnrichFirst
	}
	req.Domains = body.Domains
	req.Force = body.Force

	summary, err := a.Batcher.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, runtime.ErrTooManyDomains) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.Logger.ErrorContext(r.Context(), "batch run failed", slog.String("error", err.Error()))
		if len(summary.Results) == 0 {
			writeError(w, http.StatusInternalServerError, "batch run failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

type trackRequest struct {
	Domains []string `json:"domains"`
}

type trackResult struct {
	Input  string `json:"input"`
	Domain string `json:"domain,omitempty"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (a *api) handleTrack(w http.ResponseWriter, r *http.Request) {
	var body trackRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Domains) == 0 {
		writeError(w, http.StatusBadRequest, "domains is required")
		return
	}

	now := a.Now()
	results := make([]trackResult, 0, len(body.Domains))
	for _, raw := range body.Domains {
		opp, err := opportunity.New(raw, now)
		if err != nil {
			results = append(results, trackResult{Input: raw, Result: "invalid", Error: err.Error()})
			continue
		}
		added, err := a.Backlog.Track(r.Context(), opp)
		if err != nil {
			a.Logger.ErrorContext(r.Context(), "track failed", slog.String("domain", opp.Name), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to track domains")
			return
		}
		result := trackResult{Input: raw, Domain: opp.Name, Result: "added"}
		if !added {
			result.Result = "duplicate"
		}
		results = append(results, result)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	name, ok := domainParam(w, r)
	if !ok {
		return
	}
	opp, err := a.Backlog.Get(r.Context(), name)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOpportunityView(opp))
}

func (a *api) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	name, ok := domainParam(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	result, err := a.Batcher.Analyze(r.Context(), name, force)
	if err != nil {
		if scoring.BatchAbort(err) && result.Domain != "" {
			status, message := a.failureStatus(r, err)
			writeJSON(w, status, analyzeFailure{Error: message, Result: result})
			return
		}
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *api) handlePurchase(w http.ResponseWriter, r *http.Request) {
	name, ok := domainParam(w, r)
	if !ok {
		return
	}
	opp, err := a.Backlog.MarkPurchased(r.Context(), name, a.Now())
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOpportunityView(opp))
}

func (a *api) handleASN(w http.ResponseWriter, r *http.Request) {
	number, ok := asnParam(w, r)
	if !ok {
		return
	}
	entity, cached, err := a.Lookups.ASN(r.Context(), number)
	a.writeLookup(w, r, entity, cached, err)
}

func (a *api) handleASNPrefixes(w http.ResponseWriter, r *http.Request) {
	number, ok := asnParam(w, r)
	if !ok {
		return
	}
	prefixes, cached, err := a.Lookups.Prefixes(r.Context(), number)
	a.writeLookup(w, r, prefixes, cached, err)
}

func (a *api) handleASNPeers(w http.ResponseWriter, r *http.Request) {
	number, ok := asnParam(w, r)
	if !ok {
		return
	}
	peers, cached, err := a.Lookups.Peers(r.Context(), number)
	a.writeLookup(w, r, peers, cached, err)
}

func (a *api) handleASNSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	result, cached, err := a.Lookups.Search(r.Context(), term)
	a.writeLookup(w, r, result, cached, err)
}

func (a *api) handleWhois(w http.ResponseWriter, r *http.Request) {
	name, ok := domainParam(w, r)
	if !ok {
		return
	}
	record, cached, err := a.Lookups.Whois(r.Context(), name)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{Data: newWhoisView(record), Cached: cached})
}

type lookupResponse struct {
	Data   any  `json:"data"`
	Cached bool `json:"cached"`
}

func (a *api) writeLookup(w http.ResponseWriter, r *http.Request, data any, cached bool, err error) {
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{Data: data, Cached: cached})
}

// writeFailure maps domain errors onto HTTP statuses.
func (a *api) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, message := a.failureStatus(r, err)
	writeError(w, status, message)
}

// failureStatus maps err onto an HTTP status and a client-safe message.
func (a *api) failureStatus(r *http.Request, err error) (int, string) {
	status := http.StatusInternalServerError
	message := err.Error()
	switch {
	case errors.Is(err, scoring.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, scoring.ErrQuotaExhausted):
		status = http.StatusPaymentRequired
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, opportunity.ErrInvalidDomain):
		status = http.StatusBadRequest
	case sources.KindOf(err) == sources.KindNotFound:
		status = http.StatusNotFound
	case sources.KindOf(err) != "":
		status = http.StatusBadGateway
	default:
		message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		a.Logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	return status, message
}

func domainParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name, _, err := opportunity.Normalize(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return name, true
}

func asnParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimPrefix(strings.ToUpper(chi.URLParam(r, "asn")), "AS")
	number, err := strconv.Atoi(raw)
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "asn must be a positive number")
		return 0, false
	}
	return number, true
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// analyzeFailure reports an aborted analysis together with the item it
// stopped on.
type analyzeFailure struct {
	Error  string             `json:"error"`
	Result runtime.ItemResult `json:"result"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
