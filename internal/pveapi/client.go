// Package pveapi is a thin client for the Proxmox VE JSON API. It owns the
// authentication ticket, issues URL-encoded requests and normalizes every reply
// into a Response. Command groups (Accounts, Nodes, Storage, VServers) map
// semantic actions onto one or more Submit calls.
package pveapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	proxmoxapi "github.com/luthermonson/go-proxmox"
)

const (
	DefaultPort    = 8006
	DefaultTimeout = 30 * time.Second

	apiPrefix  = "/api2/json/"
	authCookie = "PVEAuthCookie"
	csrfHeader = "CSRFPreventionToken"
)

// Request describes one hypervisor call. Action names the call in log tags.
type Request struct {
	Action string
	Method string
	Path   string
	Params url.Values
	NoAuth bool
}

// LastRequest is the diagnostic copy of the most recent call.
type LastRequest struct {
	URL    string
	Params url.Values
}

// Observer receives one observation per completed call.
type Observer interface {
	ObserveRequest(method, action string, status Status, elapsed time.Duration)
}

// Client talks to one Proxmox endpoint. It is safe for sequential use by a
// single workflow; the ticket is shared across calls.
type Client struct {
	host     string
	baseURL  string
	http     *http.Client
	log      logr.Logger
	sink     LogSink
	observer Observer
	failFast bool
	insecure bool
	timeout  time.Duration

	mu      sync.Mutex
	session proxmoxapi.Session
	last    LastRequest
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. TLS and timeout options are ignored
// when a client is supplied.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithInsecureSkipVerify disables TLS certificate validation.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) { c.insecure = skip }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l logr.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithLogSink(s LogSink) Option {
	return func(c *Client) { c.sink = s }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithFailFast makes Dial return an error when no ticket could be obtained.
// Without it the client stays unauthenticated and later calls are rejected by
// the hypervisor.
func WithFailFast(enabled bool) Option {
	return func(c *Client) { c.failFast = enabled }
}

// NewClient builds an unauthenticated client for host:port.
func NewClient(host string, port int, opts ...Option) *Client {
	if port == 0 {
		port = DefaultPort
	}
	c := &Client{
		host:    host,
		baseURL: "https://" + host + ":" + strconv.Itoa(port) + apiPrefix,
		log:     logr.Discard(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: c.insecure} //nolint:gosec // opt-in via config
		c.http = &http.Client{Transport: transport, Timeout: c.timeout}
	}
	if c.sink == nil {
		c.sink = LogrSink{Logger: c.log}
	}
	return c
}

// Dial builds a client and authenticates it.
func Dial(ctx context.Context, host string, port int, user, password string, opts ...Option) (*Client, error) {
	c := NewClient(host, port, opts...)
	if err := c.Login(ctx, user, password); err != nil {
		if c.failFast {
			return nil, err
		}
		c.log.Error(err, "proxmox login failed; continuing unauthenticated", "host", host, "user", user)
	}
	return c, nil
}

// Login requests a ticket and CSRF token. On failure the previous session is
// kept untouched.
func (c *Client) Login(ctx context.Context, user, password string) error {
	resp := c.Submit(ctx, Request{
		Action: "access-ticket",
		Method: http.MethodPost,
		Path:   "access/ticket",
		Params: url.Values{"username": {user}, "password": {password}},
		NoAuth: true,
	})

	var session proxmoxapi.Session
	if err := resp.Decode(&session); err != nil {
		return fmt.Errorf("login %s: %w", user, err)
	}
	if session.Ticket == "" {
		return fmt.Errorf("login %s: response carried no ticket", user)
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

// Authenticated reports whether a ticket is held.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Ticket != ""
}

// Host returns the configured hypervisor host.
func (c *Client) Host() string { return c.host }

// LastRequest returns the URL and parameters of the most recent call.
func (c *Client) LastRequest() LastRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LastRequest{URL: c.last.URL, Params: cloneValues(c.last.Params)}
}

// Submit performs one call and never returns a nil Response. Network failures
// become a synthetic error response carrying a TransportError.
func (c *Client) Submit(ctx context.Context, req Request) *Response {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.baseURL + strings.TrimPrefix(req.Path, "/")
	encoded := req.Params.Encode()

	c.mu.Lock()
	c.last = LastRequest{URL: target, Params: cloneValues(req.Params)}
	session := c.session
	c.mu.Unlock()

	tag := c.host + "|" + req.Action
	c.sink.Log(tag, serializeParams(MaskParams(req.Params)), DirectionInput, true)

	log := c.log.WithValues("requestID", uuid.NewString(), "action", req.Action, "method", method)
	start := time.Now()

	var body io.Reader
	if method == http.MethodGet {
		if encoded != "" {
			target += "?" + encoded
		}
	} else {
		body = strings.NewReader(encoded)
	}

	resp := c.roundTrip(ctx, method, target, body, session, !req.NoAuth)
	elapsed := time.Since(start)

	c.sink.Log(tag, MaskBody(resp.raw), DirectionOutput, resp.OK())
	if c.observer != nil {
		c.observer.ObserveRequest(method, req.Action, resp.Status, elapsed)
	}
	if te := resp.Transport(); te != nil {
		log.Error(te.Err, "hypervisor call failed", "path", req.Path)
	} else {
		log.V(2).Info("hypervisor call", "path", req.Path, "status", string(resp.Status), "code", resp.StatusCode, "elapsed", elapsed)
	}
	return resp
}

func (c *Client) roundTrip(ctx context.Context, method, target string, body io.Reader, session proxmoxapi.Session, auth bool) *Response {
	fail := func(err error) *Response {
		return transportFailure(&TransportError{Method: method, URL: target, Err: err})
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fail(err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if auth {
		httpReq.Header.Set("Cookie", authCookie+"="+session.Ticket)
		if method != http.MethodGet {
			httpReq.Header.Set(csrfHeader, session.CSRFPreventionToken)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fail(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fail(err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fail(ErrEmptyBody)
	}
	return Normalize(httpResp.StatusCode, httpResp.Status, raw)
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
