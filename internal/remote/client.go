// Package remote performs single calls against the remote service and
// classifies their outcome. Nothing in this package retries.
package remote

import "context"

// Endpoint is the category of a remote operation.
type Endpoint string

const (
	EndpointFunds        Endpoint = "funds"
	EndpointPurchase     Endpoint = "purchase"
	EndpointSpin         Endpoint = "spin"
	EndpointOpenPack     Endpoint = "open_pack"
	EndpointClaim        Endpoint = "claim"
	EndpointAchievements Endpoint = "achievements"
	EndpointFreeSpin     Endpoint = "free_spin"
	EndpointRefresh      Endpoint = "refresh"
)

// DefaultPaths maps each endpoint to its path below the base URL.
var DefaultPaths = map[Endpoint]string{
	EndpointFunds:        "/api/v1/wallet",
	EndpointPurchase:     "/api/v1/store/purchase",
	EndpointSpin:         "/api/v1/spin",
	EndpointOpenPack:     "/api/v1/packs/open",
	EndpointClaim:        "/api/v1/rewards/claim",
	EndpointAchievements: "/api/v1/achievements/claim",
	EndpointFreeSpin:     "/api/v1/spin/free",
	EndpointRefresh:      "/api/v1/auth/refresh",
}

// Request describes one remote operation.
type Request struct {
	Endpoint Endpoint
	Method   string
	Auth     bool
	Payload  map[string]any
}

// Client performs exactly one attempt of a request.
type Client interface {
	Call(ctx context.Context, token string, req Request) Outcome
	Name() string
}
