package client

import (
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/veralog-io/veralog-go/pkg/ledger"
	"github.com/veralog-io/veralog-go/pkg/schema"
	"github.com/veralog-io/veralog-go/pkg/state"
	"github.com/veralog-io/veralog-go/pkg/uri"
)

// Client is a connection to one VeraLog server. All Verified* methods check
// the server's proofs against the local trust anchor before returning data;
// the anchor is keyed by the server address and the selected database.
//
// A Client is safe for concurrent use.
type Client struct {
	logger *zap.Logger
	states state.Service
	tp     Transport
	ownsTp bool

	serverID string
	signKey  *ecdsa.PublicKey

	tlsCreds credentials.TransportCredentials
	dialOpts []grpc.DialOption

	// session state — guarded by mu
	mu           sync.Mutex
	token        string
	tokenExpiry  time.Time // zero = opaque token, no expiry tracking
	expiryWarned bool
	database     string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

// WithStateService sets the trust anchor store. The default is an in-memory
// cache, which means trust starts over on every process start; hand in a
// state.LevelDB or state.Postgres store to persist anchors.
func WithStateService(s state.Service) Option {
	return func(c *Client) error {
		c.states = s
		return nil
	}
}

// WithServerSigningKey configures the server's ECDSA public key
// (PEM-encoded). Every state transition must then carry a valid signature
// over the new state before the anchor is advanced.
func WithServerSigningKey(pemBytes []byte) Option {
	return func(c *Client) error {
		key, err := state.ParseVerificationKey(pemBytes)
		if err != nil {
			return fmt.Errorf("server signing key: %w", err)
		}
		c.signKey = key
		return nil
	}
}

// WithServerSigningKeyFile is WithServerSigningKey reading the PEM from a
// file.
func WithServerSigningKeyFile(path string) Option {
	return func(c *Client) error {
		key, err := state.LoadVerificationKey(path)
		if err != nil {
			return fmt.Errorf("server signing key: %w", err)
		}
		c.signKey = key
		return nil
	}
}

// WithTransport injects the wire directly instead of dialing. The caller
// keeps ownership: Close does not close an injected transport. Tests pass a
// ledgertest.Server here.
func WithTransport(tp Transport) Option {
	return func(c *Client) error {
		c.tp = tp
		return nil
	}
}

// WithDialOptions appends raw gRPC dial options, applied after the
// client's own.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) error {
		c.dialOpts = append(c.dialOpts, opts...)
		return nil
	}
}

// WithMTLS configures mutual TLS from PEM-encoded material.
//
//	certPEM — the client's X.509 certificate
//	keyPEM  — the client's private key
//	caPEM   — the CA certificate the server's TLS cert chains to
func WithMTLS(certPEM, keyPEM, caPEM string) Option {
	return func(c *Client) error {
		clientCert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
		if err != nil {
			return fmt.Errorf("parse mTLS cert/key: %w", err)
		}

		pool := x509.NewCertPool()
		if caPEM != "" {
			if !pool.AppendCertsFromPEM([]byte(caPEM)) {
				return fmt.Errorf("failed to parse CA certificate PEM")
			}
		}

		c.tlsCreds = credentials.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{clientCert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS13,
		})
		return nil
	}
}

// WithSessionToken attaches a pre-obtained session token to every request.
// The token is treated as long-lived; no expiry is tracked.
func WithSessionToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// New creates a Client for the server at addr (host:port) and dials it.
// The connection is plaintext unless WithMTLS or dial options with
// transport credentials are given.
//
//	c, err := client.New("ledger.example.com:3322",
//	    client.WithServerSigningKey(pemBytes),
//	    client.WithStateService(anchors),
//	)
func New(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		logger:   zap.NewNop(),
		states:   state.NewCache(),
		serverID: addr,
		database: uri.DefaultDatabase,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	// A signature-checking store backs up the client-side check.
	if c.signKey != nil {
		if ks, ok := c.states.(interface{ SetVerificationKey(*ecdsa.PublicKey) }); ok {
			ks.SetVerificationKey(c.signKey)
		}
	}

	if c.tp == nil {
		tp, err := c.dial(addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		c.tp = tp
		c.ownsTp = true
	}
	return c, nil
}

// NewFromURI creates a Client from a veralog:// URI, selecting the
// database the URI names.
//
//	c, err := client.NewFromURI("veralog://ledger.example.com:3322/defaultdb")
func NewFromURI(rawURI string, opts ...Option) (*Client, error) {
	u, err := uri.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	c, err := New(u.Addr(), opts...)
	if err != nil {
		return nil, err
	}
	c.database = u.Database
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(addr string, opts ...Option) *Client {
	c, err := New(addr, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Close releases the connection. An injected transport is left open.
func (c *Client) Close() error {
	if !c.ownsTp {
		return nil
	}
	return c.tp.Close()
}

// ServerID returns the identity the trust anchors of this client are keyed
// by: the address the client was created with.
func (c *Client) ServerID() string {
	return c.serverID
}

// Database returns the currently selected database.
func (c *Client) Database() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.database
}

// CurrentAnchor returns the local trust anchor for the selected database.
// An empty state (TxID 0) means nothing has been verified yet.
func (c *Client) CurrentAnchor(ctx context.Context) (*state.TrustState, error) {
	st, _, err := c.anchor(ctx)
	return st, err
}

// anchor loads the trust anchor together with the database it belongs to,
// so a concurrent UseDatabase cannot shear a verified operation.
func (c *Client) anchor(ctx context.Context) (*state.TrustState, string, error) {
	db := c.Database()
	st, err := c.states.Get(ctx, c.serverID, db)
	if err != nil {
		return nil, "", fmt.Errorf("load trust anchor: %w", err)
	}
	return st, db, nil
}

// commitAnchor advances the local anchor to the verified state, checking
// the server's state signature first when a key is configured. A concurrent
// operation having advanced the anchor further is not an error.
func (c *Client) commitAnchor(ctx context.Context, db string, prevTxID, txID uint64, txHash ledger.Digest, sig *schema.Signature) error {
	st := &state.TrustState{TxID: txID, TxHash: txHash}
	if sig != nil {
		st.Signature = sig.Signature
	}
	if c.signKey != nil {
		if err := state.CheckSignature(st, c.signKey); err != nil {
			return fmt.Errorf("server state signature: %w", err)
		}
	}

	err := c.states.Set(ctx, c.serverID, db, st)
	switch {
	case errors.Is(err, state.ErrSuperseded):
		c.logger.Debug("anchor already ahead",
			zap.String("db", db),
			zap.Uint64("tx", txID))
		return nil
	case err != nil:
		return fmt.Errorf("store trust anchor: %w", err)
	}

	if txID > prevTxID {
		recordAnchorAdvance()
		c.logger.Debug("anchor advanced",
			zap.String("db", db),
			zap.Uint64("from", prevTxID),
			zap.Uint64("to", txID))
	}
	return nil
}
