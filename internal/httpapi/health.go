package httpapi

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/brightwavehq/streamfetch/pkg/httpclient"
)

// healthHandler registers the operational health/introspection endpoints.
// It reports per-host circuit breaker state from the registry every
// connpool-created client registers itself into, rather than duplicating
// that bookkeeping at the engine layer.
type healthHandler struct{}

func (h *healthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-client-health",
		Method:      "GET",
		Path:        "/health/clients",
		Summary:     "Report circuit breaker state for every host connpool has talked to",
		Tags:        []string{"health"},
	}, h.clientHealth)
}

type clientHealthInput struct{}

type clientHealthOutput struct {
	Body struct {
		Clients []httpclient.CircuitBreakerStatus `json:"clients"`
	}
}

func (h *healthHandler) clientHealth(ctx context.Context, _ *clientHealthInput) (*clientHealthOutput, error) {
	out := &clientHealthOutput{}
	out.Body.Clients = httpclient.DefaultRegistry.GetCircuitBreakerStatuses()
	return out, nil
}
