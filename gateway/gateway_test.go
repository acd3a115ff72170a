package gateway_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/n9te9/go-graphql-fusion-gateway/gateway"
	"github.com/stretchr/testify/require"
)

type planResponse struct {
	Plan *struct {
		OperationType string `json:"operationType"`
		Nodes         []struct {
			ID           int    `json:"id"`
			Schema       string `json:"schema"`
			Operation    string `json:"operation"`
			SkipIf       string `json:"skipIf"`
			Requirements []struct {
				Name      string `json:"name"`
				DependsOn int    `json:"dependsOn"`
			} `json:"requirements"`
		} `json:"nodes"`
	} `json:"plan"`
	SkippedNodes []int `json:"skippedNodes"`
	Errors       []struct {
		Message    string         `json:"message"`
		Locations  []any          `json:"locations"`
		Path       []any          `json:"path"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func newTestGateway(t *testing.T) *gateway.Gateway {
	t.Helper()

	gw, err := gateway.NewGatewayFromSDL(gateway.GatewayOption{Endpoint: "/plan", ServiceName: "test"}, []byte(storefrontSDL))
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	return gw
}

func doPlan(t *testing.T, gw http.Handler, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/plan", bytes.NewReader(b))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) planResponse {
	t.Helper()

	var resp planResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestGateway_ServeHTTP_Plan(t *testing.T) {
	gw := newTestGateway(t)

	w := doPlan(t, gw, map[string]any{
		"query": `query($id: ID!) { productById(id: $id) { name reviews { body } } }`,
	}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Equal(t, "MISS", w.Header().Get(gateway.PlanCacheHeader))
	require.NotEmpty(t, w.Header().Get(gateway.RequestIDHeader))

	resp := decode(t, w)
	require.Empty(t, resp.Errors)
	require.NotNil(t, resp.Plan)
	require.Equal(t, "query", resp.Plan.OperationType)
	require.Len(t, resp.Plan.Nodes, 2)

	require.Equal(t, 1, resp.Plan.Nodes[0].ID)
	require.Equal(t, "PRODUCTS", resp.Plan.Nodes[0].Schema)
	require.Empty(t, resp.Plan.Nodes[0].Requirements)

	require.Equal(t, 2, resp.Plan.Nodes[1].ID)
	require.Equal(t, "REVIEWS", resp.Plan.Nodes[1].Schema)
	require.Len(t, resp.Plan.Nodes[1].Requirements, 1)
	require.Equal(t, "__fusion_requirement_1", resp.Plan.Nodes[1].Requirements[0].Name)
	require.Equal(t, 1, resp.Plan.Nodes[1].Requirements[0].DependsOn)
	require.Contains(t, resp.Plan.Nodes[1].Operation, "reviewsProductById(id: $__fusion_requirement_1)")
}

func TestGateway_ServeHTTP_CacheHit(t *testing.T) {
	gw := newTestGateway(t)
	body := map[string]any{"query": `{ productById(id: "1") { name } }`}

	first := doPlan(t, gw, body, nil)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "MISS", first.Header().Get(gateway.PlanCacheHeader))

	second := doPlan(t, gw, body, nil)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "HIT", second.Header().Get(gateway.PlanCacheHeader))
	require.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestGateway_ServeHTTP_RequestID(t *testing.T) {
	gw := newTestGateway(t)

	w := doPlan(t, gw, map[string]any{"query": `{ productById(id: "1") { name } }`}, http.Header{
		gateway.RequestIDHeader: []string{"req-42"},
	})
	require.Equal(t, "req-42", w.Header().Get(gateway.RequestIDHeader))
}

func TestGateway_ServeHTTP_YAML(t *testing.T) {
	gw := newTestGateway(t)

	w := doPlan(t, gw, map[string]any{"query": `{ productById(id: "1") { name } }`}, http.Header{
		"Accept": []string{"application/yaml;q=0.9, application/json;q=0.5"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(w.Body.String(), "nodes:\n  - id: 1\n    schema: \"PRODUCTS\"\n"), w.Body.String())
}

func TestGateway_ServeHTTP_SkippedNodes(t *testing.T) {
	gw := newTestGateway(t)

	w := doPlan(t, gw, map[string]any{
		"query":     `query($s: Boolean!) { productById(id: "1") @skip(if: $s) { reviews { body } } }`,
		"variables": map[string]any{"s": true},
	}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.Equal(t, "s", resp.Plan.Nodes[0].SkipIf)
	require.Equal(t, []int{1, 2}, resp.SkippedNodes)
}

func TestGateway_ServeHTTP_Errors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "Error case: method not allowed",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Error case: malformed body",
			method:     http.MethodPost,
			body:       `{"query":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Error case: empty query",
			method:     http.MethodPost,
			body:       `{"query":"  "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Error case: unknown field",
			method:     http.MethodPost,
			body:       `{"query":"{ productById(id: \"1\") { price } }"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "UNKNOWN_FIELD",
		},
		{
			name:       "Error case: syntax error",
			method:     http.MethodPost,
			body:       `{"query":"{ productById("}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "INVALID_OPERATION",
		},
	}

	gw := newTestGateway(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/plan", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			gw.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			resp := decode(t, w)
			require.Nil(t, resp.Plan)
			require.Len(t, resp.Errors, 1)
			require.NotEmpty(t, resp.Errors[0].Message)
			if tt.wantCode != "" {
				require.Equal(t, tt.wantCode, resp.Errors[0].Extensions["code"])
				require.NotEmpty(t, resp.Errors[0].Locations)
			}
		})
	}
}

func TestGateway_Close(t *testing.T) {
	gw := newTestGateway(t)
	require.False(t, gw.Closed())

	gw.Close()
	gw.Close()
	require.True(t, gw.Closed())
}
