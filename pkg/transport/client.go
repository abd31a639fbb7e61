package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"esfixture/pkg/models"

	"github.com/pkg/errors"
)

const DefaultPort = 9300

type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAddress parses "host:port" or a bare host using DefaultPort.
func ParseAddress(raw string) (Address, error) {
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return Address{Host: raw, Port: DefaultPort}, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Address{}, errors.Wrapf(err, "invalid port in address '%s'", raw)
	}
	return Address{Host: host, Port: p}, nil
}

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

type Options struct {
	ClusterName string
	Addresses   []Address
	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver
	// Dial defaults to a TCP dialer. With no Addresses, Dial is called once
	// per connection with the address "local".
	Dial DialFunc
	// Timeout bounds calls whose context has no deadline. Zero means no bound.
	Timeout time.Duration
}

// UnresolvableHostError reports a transport address whose host has no IP.
type UnresolvableHostError struct {
	Host string
	Err  error
}

func (e *UnresolvableHostError) Error() string {
	return fmt.Sprintf("unable to resolve transport host '%s': %v", e.Host, e.Err)
}

func (e *UnresolvableHostError) Unwrap() error {
	return e.Err
}

type conn struct {
	net.Conn
	enc *json.Encoder
	dec *json.Decoder
	mu  sync.Mutex
}

// Client talks to one or more nodes over the transport protocol.
type Client struct {
	clusterName string
	targets     []string
	dial        DialFunc
	timeout     time.Duration

	mu     sync.Mutex
	conns  map[string]*conn
	next   int
	closed bool
}

// Connect resolves every address up front. One unresolvable host fails the
// whole client. Connections are dialed on first use.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	dial := opts.Dial
	if dial == nil {
		dialer := &net.Dialer{}
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		}
	}

	targets := make([]string, 0, len(opts.Addresses))
	for _, addr := range opts.Addresses {
		ips, err := resolver.LookupHost(ctx, addr.Host)
		if err == nil && len(ips) == 0 {
			err = errors.New("no address found")
		}
		if err != nil {
			return nil, &UnresolvableHostError{Host: addr.Host, Err: err}
		}
		targets = append(targets, net.JoinHostPort(ips[0], strconv.Itoa(addr.Port)))
	}

	if len(targets) == 0 {
		if opts.Dial == nil {
			return nil, errors.WithStack(ErrNoAddress)
		}
		targets = append(targets, "local")
	}

	return &Client{
		clusterName: opts.ClusterName,
		targets:     targets,
		dial:        dial,
		timeout:     opts.Timeout,
		conns:       make(map[string]*conn),
	}, nil
}

func (c *Client) ClusterName() string {
	return c.clusterName
}

// Addresses returns the resolved targets.
func (c *Client) Addresses() []string {
	addrs := make([]string, len(c.targets))
	copy(addrs, c.targets)
	return addrs
}

func (c *Client) getConn(ctx context.Context, target string) (*conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.WithStack(ErrClosed)
	}
	if cn, ok := c.conns[target]; ok {
		c.mu.Unlock()
		return cn, nil
	}
	c.mu.Unlock()

	raw, err := c.dial(ctx, target)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial '%s'", target)
	}

	cn := &conn{
		Conn: raw,
		enc:  json.NewEncoder(raw),
		dec:  json.NewDecoder(raw),
	}

	resp, err := c.roundTrip(ctx, cn, Request{Type: ReqHandshake, ClusterName: c.clusterName})
	if err == nil && resp.Err != "" {
		err = responseError(resp)
	}
	if err != nil {
		raw.Close()
		return nil, errors.Wrapf(err, "handshake with '%s' failed", target)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		raw.Close()
		return nil, errors.WithStack(ErrClosed)
	}
	if existing, ok := c.conns[target]; ok {
		raw.Close()
		return existing, nil
	}
	c.conns[target] = cn
	return cn, nil
}

func (c *Client) drop(target string, cn *conn) {
	c.mu.Lock()
	if c.conns[target] == cn {
		delete(c.conns, target)
	}
	c.mu.Unlock()
	cn.Close()
}

func (c *Client) roundTrip(ctx context.Context, cn *conn, req Request) (*Response, error) {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := cn.SetDeadline(deadline); err != nil {
		return nil, errors.WithStack(err)
	}

	stop := context.AfterFunc(ctx, func() {
		cn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := cn.enc.Encode(req); err != nil {
		return nil, errors.WithStack(contextErr(ctx, err))
	}

	var resp Response
	if err := cn.dec.Decode(&resp); err != nil {
		return nil, errors.WithStack(contextErr(ctx, err))
	}
	return &resp, nil
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// call sends req to the next target, moving on to the following ones while
// they cannot be reached. A request that was sent is never retried.
func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.WithStack(ErrClosed)
	}
	start := c.next
	c.next = (c.next + 1) % len(c.targets)
	c.mu.Unlock()

	var lastErr error
	for i := 0; i < len(c.targets); i++ {
		target := c.targets[(start+i)%len(c.targets)]

		cn, err := c.getConn(ctx, target)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		resp, err := c.roundTrip(ctx, cn, req)
		if err != nil {
			c.drop(target, cn)
			return nil, err
		}
		if resp.Err != "" {
			return nil, responseError(resp)
		}
		return resp, nil
	}

	return nil, errors.Wrap(lastErr, "no transport node available")
}

func (c *Client) Health(ctx context.Context) (models.ClusterHealth, error) {
	resp, err := c.call(ctx, Request{Type: ReqHealth})
	if err != nil {
		return models.ClusterHealth{}, err
	}
	if resp.Health == nil {
		return models.ClusterHealth{}, errors.New("health missing from response")
	}
	return *resp.Health, nil
}

// WaitForStatus polls the cluster health until it reaches min or ctx is done.
func (c *Client) WaitForStatus(ctx context.Context, min models.Status, interval time.Duration) (models.ClusterHealth, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		health, err := c.Health(ctx)
		if err == nil && health.Status.AtLeast(min) {
			return health, nil
		}
		if errors.Is(err, ErrClosed) {
			return health, err
		}

		select {
		case <-ctx.Done():
			health.TimedOut = true
			return health, errors.WithStack(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) CreateIndex(ctx context.Context, name string, shards, replicas int) error {
	_, err := c.call(ctx, Request{
		Type:        ReqCreateIndex,
		IndexName:   name,
		NumShards:   shards,
		NumReplicas: replicas,
	})
	return err
}

func (c *Client) Index(ctx context.Context, index, id string, doc map[string]interface{}) error {
	_, err := c.call(ctx, Request{
		Type:      ReqIndex,
		IndexName: index,
		ID:        id,
		Data:      doc,
	})
	return err
}

func (c *Client) BatchIndex(ctx context.Context, index string, ids []string, docs []map[string]interface{}) error {
	_, err := c.call(ctx, Request{
		Type:      ReqBatchIndex,
		IndexName: index,
		BatchIDs:  ids,
		BatchDocs: docs,
	})
	return err
}

// Get returns nil without error when the document does not exist.
func (c *Client) Get(ctx context.Context, index, id string) (map[string]interface{}, error) {
	resp, err := c.call(ctx, Request{
		Type:      ReqGet,
		IndexName: index,
		ID:        id,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Delete(ctx context.Context, index, id string) error {
	_, err := c.call(ctx, Request{
		Type:      ReqDelete,
		IndexName: index,
		ID:        id,
	})
	return err
}

func (c *Client) Search(ctx context.Context, index string, req models.SearchRequest) (*models.SearchResponse, error) {
	resp, err := c.call(ctx, Request{
		Type:      ReqSearch,
		IndexName: index,
		Search:    &req,
	})
	if err != nil {
		return nil, err
	}
	if resp.Search == nil {
		return &models.SearchResponse{}, nil
	}
	return resp.Search, nil
}

func (c *Client) Indices(ctx context.Context) ([]models.IndexInfo, error) {
	resp, err := c.call(ctx, Request{Type: ReqListIndices})
	if err != nil {
		return nil, err
	}
	return resp.Indices, nil
}

// Close closes every connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for target, cn := range c.conns {
		cn.Close()
		delete(c.conns, target)
	}
	return nil
}

func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
