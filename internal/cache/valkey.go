package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider against a Valkey/Redis-compatible server
// speaking RESP2. Each operation uses a short-lived connection.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// NewValkeyProvider creates a Provider and pings the server so that bad
// credentials or an unreachable address fail at startup.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg.applyDefaults()
	provider := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := provider.Ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping %s: %w", cfg.Addr, err)
	}
	return provider, nil
}

// Ping checks connectivity and authentication.
func (p *ValkeyProvider) Ping(ctx context.Context) error {
	reply, err := p.do(ctx, "PING")
	if err != nil {
		return err
	}
	if reply.kind != kindSimple || string(reply.data) != "PONG" {
		return fmt.Errorf("unexpected PING reply %q", reply.data)
	}
	return nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch reply.kind {
	case kindNil:
		return nil, ErrCacheMiss
	case kindBulk:
		return reply.data, nil
	default:
		return nil, fmt.Errorf("unexpected GET reply kind %q", reply.kind)
	}
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	reply, err := p.do(ctx, "SET", setArgs(key, value, ttl, false)...)
	if err != nil {
		return err
	}
	if reply.kind != kindSimple || string(reply.data) != "OK" {
		return fmt.Errorf("unexpected SET reply %q", reply.data)
	}
	return nil
}

// SetNX stores the value only if the key does not exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	reply, err := p.do(ctx, "SET", setArgs(key, value, ttl, true)...)
	if err != nil {
		return false, err
	}
	switch reply.kind {
	case kindSimple:
		return true, nil
	case kindNil:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected SET NX reply kind %q", reply.kind)
	}
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	reply, err := p.do(ctx, "DEL", key)
	if err != nil {
		return err
	}
	if reply.kind != kindInteger {
		return fmt.Errorf("unexpected DEL reply kind %q", reply.kind)
	}
	return nil
}

// Close is a no-op; connections are not pooled.
func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, onlyIfAbsent bool) []any {
	args := []any{key, value}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if onlyIfAbsent {
		args = append(args, "NX")
	}
	return args
}

// do runs one command on a fresh connection, retrying transient network errors.
func (p *ValkeyProvider) do(ctx context.Context, command string, args ...any) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := p.once(ctx, command, args...)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		select {
		case <-ctx.Done():
			return respReply{}, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) once(ctx context.Context, command string, args ...any) (respReply, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer conn.close()

	if err := conn.handshake(p.cfg); err != nil {
		return respReply{}, err
	}
	return conn.roundTrip(append([]any{command}, args...)...)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostOnly(p.cfg.Addr)},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		rw:           bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (cfg *ValkeyConfig) applyDefaults() {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// replyKind enumerates the RESP2 reply types the provider understands.
type replyKind string

const (
	kindSimple  replyKind = "+"
	kindBulk    replyKind = "$"
	kindInteger replyKind = ":"
	kindNil     replyKind = "_"
)

type respReply struct {
	kind replyKind
	data []byte
}

// respError is an error reply sent by the server.
type respError string

func (e respError) Error() string { return string(e) }

type respConn struct {
	conn         net.Conn
	rw           *bufio.ReadWriter
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() { _ = c.conn.Close() }

func (c *respConn) handshake(cfg ValkeyConfig) error {
	if cfg.Password != "" {
		args := []any{"AUTH"}
		if cfg.Username != "" {
			args = append(args, cfg.Username)
		}
		args = append(args, cfg.Password)
		if err := c.expectOK(args...); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if cfg.DB > 0 {
		if err := c.expectOK("SELECT", strconv.Itoa(cfg.DB)); err != nil {
			return fmt.Errorf("select db %d: %w", cfg.DB, err)
		}
	}
	return nil
}

func (c *respConn) expectOK(args ...any) error {
	reply, err := c.roundTrip(args...)
	if err != nil {
		return err
	}
	if reply.kind != kindSimple || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected reply %q", reply.data)
	}
	return nil
}

func (c *respConn) roundTrip(args ...any) (respReply, error) {
	if err := c.write(args...); err != nil {
		return respReply{}, err
	}
	return c.read()
}

// write encodes args as a RESP array of bulk strings.
func (c *respConn) write(args ...any) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.rw, "*%d\r\n", len(args)); err != nil {
		return err
	}
	for _, arg := range args {
		var raw []byte
		switch v := arg.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return fmt.Errorf("unsupported RESP argument type %T", arg)
		}
		if _, err := fmt.Fprintf(c.rw, "$%d\r\n", len(raw)); err != nil {
			return err
		}
		if _, err := c.rw.Write(raw); err != nil {
			return err
		}
		if _, err := c.rw.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return c.rw.Flush()
}

func (c *respConn) read() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	line, err := c.rw.ReadString('\n')
	if err != nil {
		return respReply{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return respReply{}, errors.New("empty RESP line")
	}

	prefix, body := line[0], line[1:]
	switch prefix {
	case '+':
		return respReply{kind: kindSimple, data: []byte(body)}, nil
	case '-':
		return respReply{}, respError(body)
	case ':':
		return respReply{kind: kindInteger, data: []byte(body)}, nil
	case '$':
		size, err := strconv.Atoi(body)
		if err != nil {
			return respReply{}, fmt.Errorf("bulk length %q: %w", body, err)
		}
		if size < 0 {
			return respReply{kind: kindNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.rw, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("bulk string missing CRLF terminator")
		}
		return respReply{kind: kindBulk, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}
