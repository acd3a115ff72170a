package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/planner"
	"github.com/n9te9/go-graphql-fusion-gateway/internal/logging"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-Id"
	PlanCacheHeader = "X-Fusion-Plan-Cache"

	contentTypeJSON = "application/json"
	contentTypeYAML = "application/yaml"
)

// Gateway serves request plans for one composite schema over HTTP.
type Gateway struct {
	endpoint string
	engine   *planningEngine

	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	httpClient     *http.Client

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ http.Handler = (*Gateway)(nil)

type Option func(*Gateway)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithTracerProvider enables planning spans on the plan cache miss path.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		g.tracerProvider = tp
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// NewGateway loads the composite schema named by settings and builds a gateway for it.
func NewGateway(ctx context.Context, settings GatewayOption, opts ...Option) (*Gateway, error) {
	g := newGateway(settings, opts...)

	sdl, err := loadSchema(ctx, settings.Schema, g.httpClient)
	if err != nil {
		return nil, err
	}
	if err := g.build(sdl, settings.Planner); err != nil {
		return nil, err
	}
	return g, nil
}

// NewGatewayFromSDL builds a gateway for the given composite schema, ignoring settings.Schema.
func NewGatewayFromSDL(settings GatewayOption, sdl []byte, opts ...Option) (*Gateway, error) {
	g := newGateway(settings, opts...)
	if err := g.build(sdl, settings.Planner); err != nil {
		return nil, err
	}
	return g, nil
}

func newGateway(settings GatewayOption, opts ...Option) *Gateway {
	g := &Gateway{
		endpoint:   settings.Endpoint,
		logger:     zap.NewNop(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("service_name", settings.ServiceName))
	if settings.Opentelemetry.TracingSetting.Enable && g.httpClient.Transport == nil {
		g.httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return g
}

func (g *Gateway) build(sdl []byte, opt PlannerOption) error {
	engine, err := buildEngine(sdl, opt, g.logger, g.tracerProvider)
	if err != nil {
		return err
	}
	g.engine = engine
	g.logger.Info("composite schema loaded",
		zap.Strings("subgraphs", engine.schema.Subgraphs),
		zap.Int("types", len(engine.schema.Types)),
	)
	return nil
}

// Endpoint is the path plans are served on.
func (g *Gateway) Endpoint() string {
	return g.endpoint
}

// Subgraphs lists the source schemas of the loaded composite schema.
func (g *Gateway) Subgraphs() []string {
	return g.engine.schema.Subgraphs
}

// Close releases the plan cache. The gateway must not serve requests afterwards.
// Calling Close more than once is a no-op.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		g.engine.close()
		g.closed.Store(true)
	})
}

// Closed reports whether Close has been called.
func (g *Gateway) Closed() bool {
	return g.closed.Load()
}

type planRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type planResponse struct {
	Plan *planner.RequestPlan `json:"plan,omitempty"`
	// Present when variables were supplied.
	SkippedNodes []int             `json:"skippedNodes,omitempty"`
	Errors       []*gqlerror.Error `json:"errors,omitempty"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)
	logger := g.logger.With(logging.WithRequestID(requestID))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeErrors(w, http.StatusMethodNotAllowed, gqlerror.Errorf("method %s not allowed", r.Method))
		return
	}

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrors(w, http.StatusBadRequest, gqlerror.Errorf("invalid request body: %s", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeErrors(w, http.StatusBadRequest, gqlerror.Errorf("query is required"))
		return
	}

	plan, hit, err := g.engine.cache.Plan(r.Context(), req.Query, req.OperationName)
	if err != nil {
		var perr *planner.PlanningError
		if errors.As(err, &perr) {
			logger.Debug("planning failed", logging.WithOperationName(req.OperationName), zap.Error(err))
			writeErrors(w, http.StatusUnprocessableEntity, perr.GQLError())
			return
		}
		logger.Error("unexpected planning failure", logging.WithOperationName(req.OperationName), zap.Error(err))
		writeErrors(w, http.StatusInternalServerError, gqlerror.Errorf("internal server error"))
		return
	}

	if hit {
		w.Header().Set(PlanCacheHeader, "HIT")
	} else {
		w.Header().Set(PlanCacheHeader, "MISS")
	}

	if acceptsYAML(r) {
		w.Header().Set("Content-Type", contentTypeYAML)
		w.WriteHeader(http.StatusOK)
		if err := planner.SerializePlan(w, plan); err != nil {
			logger.Error("failed to write plan", zap.Error(err))
		}
		return
	}

	resp := planResponse{Plan: plan}
	if req.Variables != nil {
		resp.SkippedNodes = skippedNodeIDs(plan, req.Variables)
	}
	writeJSON(w, http.StatusOK, resp)
}

func skippedNodeIDs(plan *planner.RequestPlan, variables map[string]any) []int {
	skipped := plan.SkippedNodes(variables)
	var ids []int
	for _, n := range plan.Nodes {
		if skipped[n.ID] {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

func acceptsYAML(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch mediaType {
		case contentTypeYAML, "application/x-yaml", "text/yaml":
			return true
		}
	}
	return false
}

func writeErrors(w http.ResponseWriter, status int, errs ...*gqlerror.Error) {
	writeJSON(w, status, planResponse{Errors: errs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
