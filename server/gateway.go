package server

import (
	"net/http"

	"github.com/n9te9/go-graphql-fusion-gateway/registry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	healthPath       = "/health"
	registrationPath = "/schema/registration"
)

// newHandler routes the plan endpoint to the applied gateway and exposes schema registration.
func newHandler(endpoint string, reg *registry.Registry, tracing bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+endpoint, reg)
	mux.HandleFunc("POST "+registrationPath, reg.RegisterGateway)
	mux.HandleFunc("GET "+healthPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if !tracing {
		return mux
	}
	return otelhttp.NewHandler(mux, "fusion-gateway",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
