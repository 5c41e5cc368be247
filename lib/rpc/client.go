package rpc

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

// DefaultClientTimeout bounds connecting and each call.
const DefaultClientTimeout = 30 * time.Second

// ClientConfig configures a Client or PooledClient.
type ClientConfig struct {
	// UnixSocketPath is the server's Unix socket. It takes precedence over
	// TCPAddress.
	UnixSocketPath string
	// TCPAddress is the server's TCP address.
	TCPAddress string
	// AuthToken is the hex-encoded shared secret.
	AuthToken string
	// AuthFile is read when AuthToken is empty.
	AuthFile string
	// Timeout bounds connecting and each call.
	// Default: 30 seconds
	Timeout time.Duration
}

func (cfg ClientConfig) timeout() time.Duration {
	if cfg.Timeout <= 0 {
		return DefaultClientTimeout
	}
	return cfg.Timeout
}

// Client holds one connection to the control server. Calls are serialized.
type Client struct {
	API

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	authToken []byte
	requestID int64
	timeout   time.Duration
}

// NewClient connects to the server and authenticates when a token is
// configured.
func NewClient(cfg ClientConfig) (*Client, error) {
	token, err := loadAuthToken(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := dialConnection(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		authToken: token,
		timeout:   cfg.timeout(),
	}
	c.API = API{caller: c}

	if c.authToken != nil {
		if err := c.Call(context.Background(), "auth", authParams(c.authToken), nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}
	return c, nil
}

func dialConnection(ctx context.Context, cfg ClientConfig) (net.Conn, error) {
	d := net.Dialer{Timeout: cfg.timeout()}
	switch {
	case cfg.UnixSocketPath != "":
		conn, err := d.DialContext(ctx, "unix", cfg.UnixSocketPath)
		if err != nil {
			return nil, fmt.Errorf("connect unix: %w", apperrors.ClassifyNetError(err))
		}
		return conn, nil
	case cfg.TCPAddress != "":
		conn, err := d.DialContext(ctx, "tcp", cfg.TCPAddress)
		if err != nil {
			return nil, fmt.Errorf("connect tcp: %w", apperrors.ClassifyNetError(err))
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("no control address specified: %w", apperrors.ErrConfiguration)
	}
}

// loadAuthToken returns the configured token, or nil when none is set.
func loadAuthToken(cfg ClientConfig) ([]byte, error) {
	raw := cfg.AuthToken
	if raw == "" && cfg.AuthFile != "" {
		data, err := os.ReadFile(cfg.AuthFile)
		if err != nil {
			return nil, fmt.Errorf("reading auth file: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return nil, nil
	}
	token, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid auth token: %w", err)
	}
	return token, nil
}

func authParams(token []byte) map[string]string {
	return map[string]string{"token": hex.EncodeToString(token)}
}

// Call sends one request and decodes the result into result, which may be
// nil. A server-side failure is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("call %s: %w", method, apperrors.ErrClosed)
	}
	c.requestID++
	return exchange(ctx, c.conn, c.reader.ReadBytes, c.timeout, c.requestID, method, params, result)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// exchange writes one request to conn and reads its response with
// readLine. The deadline is the earlier of ctx's and now plus timeout.
func exchange(ctx context.Context, conn net.Conn, readLine func(byte) ([]byte, error),
	timeout time.Duration, id int64, method string, params, result any,
) error {
	req := Request{JSONRPC: "2.0", Method: method}
	idJSON, _ := json.Marshal(id)
	req.ID = idJSON
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding params: %w", err)
		}
		req.Params = data
	}
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	// Moving the deadline to now unblocks I/O when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(append(line, '\n')); err != nil {
		return callError(ctx, method, "sending request", err)
	}
	data, err := readLine('\n')
	if err != nil {
		return callError(ctx, method, "reading response", err)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decoding result: %w", err)
		}
	}
	return nil
}

func callError(ctx context.Context, method, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s %s: %w", op, method, apperrors.ClassifyNetError(err))
}

// IsRPCError reports whether err carries a server-side error with code.
func IsRPCError(err error, code int) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Code == code
}
