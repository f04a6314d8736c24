// Package rpc provides a router that spreads calls over several
// interchangeable credentials for the same backend.
//
// This package offers:
//   - Health tracking per credential (success rate, latency average, score)
//   - Automatic failover to another credential on failure
//   - Round-robin, health-based and weighted selection
//   - Timed recovery of credentials that were taken out of rotation
//
// # Quick Start
//
//	import "github.com/set718/keyrouter/internal/infra/rpc"
//
//	keys := map[rpc.CredentialID]string{"key-1": k1, "key-2": k2}
//	invoker := rpc.NewHTTPInvoker(baseURL, "/chat-messages", keys, 30*time.Second)
//
//	client, err := rpc.NewClient([]rpc.CredentialID{"key-1", "key-2"}, invoker, rpc.DefaultPollingConfig())
//	go client.Start(ctx) // recovery loop
//
//	resp, err := client.Dispatch(ctx, rpc.ChatRequest{Query: "hello"})
//
// # Package Structure
//
//   - credential/ - Registry, health tracker, score math
//   - routing/    - Selection strategies, dispatcher, failure classification
//   - recovery/   - Recovery scheduler
//   - provider/   - HTTP and gRPC invokers
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"time"

	"github.com/set718/keyrouter/internal/core/domain"
	"github.com/set718/keyrouter/internal/infra/rpc/provider"
	"github.com/set718/keyrouter/internal/infra/rpc/routing"
)

// =============================================================================
// Re-exported types from domain
// =============================================================================

// CredentialID identifies one credential.
type CredentialID = domain.CredentialID

// CredentialRecord is the live state of one credential.
type CredentialRecord = domain.CredentialRecord

// PollingConfig holds the router settings.
type PollingConfig = domain.PollingConfig

// Failure classifies a failed invocation.
type Failure = domain.Failure

// DefaultPollingConfig returns the production defaults.
func DefaultPollingConfig() PollingConfig {
	return domain.DefaultPollingConfig()
}

// =============================================================================
// Re-exported types from routing package
// =============================================================================

// Invoker performs one call with one credential.
type Invoker = routing.Invoker

// InvokerFunc adapts a function to Invoker.
type InvokerFunc = routing.InvokerFunc

// DispatchError is returned when a dispatch ends without a response.
type DispatchError = routing.DispatchError

// Dispatch outcome sentinels
var (
	ErrAllCredentialsExhausted = routing.ErrAllCredentialsExhausted
	ErrAllAttemptsFailed       = routing.ErrAllAttemptsFailed
	ErrGateTimeout             = routing.ErrGateTimeout
)

// =============================================================================
// Re-exported types from provider package
// =============================================================================

// ChatRequest is the request accepted by the HTTP and gRPC invokers.
type ChatRequest = provider.ChatRequest

// ChatResponse is the response returned by the HTTP and gRPC invokers.
type ChatResponse = provider.ChatResponse

// HTTPInvoker calls a chat-messages style HTTP endpoint.
type HTTPInvoker = provider.HTTPInvoker

// GRPCInvoker calls a unary gRPC method.
type GRPCInvoker = provider.GRPCInvoker

// NewHTTPInvoker creates an HTTP invoker.
func NewHTTPInvoker(
	baseURL, endpoint string,
	keys map[CredentialID]string,
	timeout time.Duration,
) *HTTPInvoker {
	return provider.NewHTTPInvoker(baseURL, endpoint, keys, timeout)
}

// NewGRPCInvoker creates a gRPC invoker for target and method.
func NewGRPCInvoker(target, method string, keys map[CredentialID]string) (*GRPCInvoker, error) {
	return provider.NewGRPCInvoker(target, method, keys)
}
