package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
)

// Metadata keys attached to every call.
const (
	authorizationKey = "authorization"
	correlationKey   = "x-veralog-call-id"
)

// Transport is the wire the client speaks over: the unary subset of a
// *grpc.ClientConn. Injected via WithTransport for in-process testing.
type Transport interface {
	grpc.ClientConnInterface
	Close() error
}

// hybridCodec dispatches on the payload type: protobuf messages (the gRPC
// health service) marshal as protobuf, everything else as JSON.
type hybridCodec struct{}

// Marshal implements encoding.Codec.
func (hybridCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return json.Marshal(v)
}

// Unmarshal implements encoding.Codec.
func (hybridCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

// Name implements encoding.Codec.
func (hybridCodec) Name() string { return "veralog-json" }

// dial opens the gRPC connection with the hybrid codec as the default.
// Later dial options win, so WithDialOptions can override anything set
// here.
func (c *Client) dial(addr string) (Transport, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(hybridCodec{})),
	}
	if c.tlsCreds != nil {
		opts = append(opts, grpc.WithTransportCredentials(c.tlsCreds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, c.dialOpts...)

	return grpc.NewClient(addr, opts...)
}

// invoke runs one unary call, attaching the session token and a fresh
// correlation id as metadata.
func (c *Client) invoke(ctx context.Context, method string, args, reply any) error {
	callID := uuid.NewString()
	md := metadata.Pairs(correlationKey, callID)
	if tok := c.bearer(); tok != "" {
		md.Set(authorizationKey, "Bearer "+tok)
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	start := time.Now()
	if err := c.tp.Invoke(ctx, method, args, reply); err != nil {
		c.logger.Debug("rpc failed",
			zap.String("method", method),
			zap.String("call_id", callID),
			zap.Error(err))
		return err
	}
	c.logger.Debug("rpc done",
		zap.String("method", method),
		zap.String("call_id", callID),
		zap.Duration("took", time.Since(start)))
	return nil
}

// bearer returns the current session token, warning once when a tracked
// expiry has passed.
func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !c.tokenExpiry.IsZero() && time.Now().After(c.tokenExpiry) && !c.expiryWarned {
		c.expiryWarned = true
		c.logger.Warn("session token expired, log in again",
			zap.Time("expired_at", c.tokenExpiry))
	}
	return c.token
}
