package client

import (
	"context"
	"fmt"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/veralog-io/veralog-go/pkg/schema"
)

// Plain operations trust the server's answers without proofs. They exist
// for tooling and diagnostics; applications that care about integrity use
// the Verified* counterparts.

// CurrentState returns the server-claimed head of the selected database.
// The claim is unverified; the auditor feeds it to VerifiedTxByID to make
// it checkable.
func (c *Client) CurrentState(ctx context.Context) (*schema.LedgerState, error) {
	resp := &schema.LedgerState{}
	if err := c.invoke(ctx, schema.MethodCurrentState, &schema.CurrentStateRequest{}, resp); err != nil {
		return nil, fmt.Errorf("current state: %w", err)
	}
	return resp, nil
}

// Get reads the current value of key.
func (c *Client) Get(ctx context.Context, key []byte) (*schema.Entry, error) {
	return c.get(ctx, &schema.KeyRequest{Key: key})
}

// GetAt reads the value key had as of transaction atTx.
func (c *Client) GetAt(ctx context.Context, key []byte, atTx uint64) (*schema.Entry, error) {
	return c.get(ctx, &schema.KeyRequest{Key: key, AtTx: atTx})
}

func (c *Client) get(ctx context.Context, kr *schema.KeyRequest) (*schema.Entry, error) {
	resp := &schema.Entry{}
	if err := c.invoke(ctx, schema.MethodGet, kr, resp); err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return resp, nil
}

// Set writes one key/value pair.
func (c *Client) Set(ctx context.Context, key, value []byte) (*schema.TxHeader, error) {
	return c.SetAll(ctx, &schema.KeyValue{Key: key, Value: value})
}

// SetAll writes several key/value pairs in one transaction.
func (c *Client) SetAll(ctx context.Context, kvs ...*schema.KeyValue) (*schema.TxHeader, error) {
	resp := &schema.TxHeader{}
	if err := c.invoke(ctx, schema.MethodSet, &schema.SetRequest{KVs: kvs}, resp); err != nil {
		return nil, fmt.Errorf("set: %w", err)
	}
	return resp, nil
}

// History lists stored revisions of one key, oldest first unless req.Desc.
func (c *Client) History(ctx context.Context, req *schema.HistoryRequest) (*schema.Entries, error) {
	resp := &schema.Entries{}
	if err := c.invoke(ctx, schema.MethodHistory, req, resp); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return resp, nil
}

// Health returns the application-level health report.
func (c *Client) Health(ctx context.Context) (*schema.HealthResponse, error) {
	resp := &schema.HealthResponse{}
	if err := c.invoke(ctx, schema.MethodHealth, &schema.HealthRequest{}, resp); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return resp, nil
}

// HealthCheck probes the standard gRPC health service and fails unless the
// server reports SERVING.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.tp).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server not serving: %s", resp.Status)
	}
	return nil
}
