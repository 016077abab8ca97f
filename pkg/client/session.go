package client

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/veralog-io/veralog-go/pkg/schema"
	"github.com/veralog-io/veralog-go/pkg/uri"
)

// Login opens a session. The returned token is attached to every later
// call. When the server hands out a JWT, its expiry claim is tracked so a
// stale session gets flagged in the log before calls start failing;
// opaque tokens are accepted as-is.
func (c *Client) Login(ctx context.Context, user, password string) error {
	resp := &schema.LoginResponse{}
	err := c.invoke(ctx, schema.MethodLogin, &schema.LoginRequest{User: user, Password: password}, resp)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.tokenExpiry = tokenExpiry(resp.Token)
	c.expiryWarned = false
	c.mu.Unlock()

	if resp.Warning != "" {
		c.logger.Warn("server warning", zap.String("warning", resp.Warning))
	}
	return nil
}

// Logout terminates the session and drops the token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.invoke(ctx, schema.MethodLogout, &schema.LogoutRequest{}, &schema.LogoutResponse{}); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
	return nil
}

// SessionToken returns the current session token, empty when logged out.
func (c *Client) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// UseDatabase switches the session to another logical database. Trust
// anchors are per database, so verification state does not carry over.
func (c *Client) UseDatabase(ctx context.Context, db string) error {
	if err := uri.ValidateDatabase(db); err != nil {
		return err
	}

	reply := &schema.UseDatabaseReply{}
	if err := c.invoke(ctx, schema.MethodUseDatabase, &schema.UseDatabaseRequest{Database: db}, reply); err != nil {
		return fmt.Errorf("use database %s: %w", db, err)
	}

	c.mu.Lock()
	c.database = db
	if reply.Token != "" {
		c.token = reply.Token
		c.tokenExpiry = tokenExpiry(reply.Token)
		c.expiryWarned = false
	}
	c.mu.Unlock()
	return nil
}

// tokenExpiry peeks at the expiry claim of a JWT without verifying it (the
// signature is the server's concern, the client only wants the timestamp).
// Returns the zero time for opaque tokens and JWTs without an expiry.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
