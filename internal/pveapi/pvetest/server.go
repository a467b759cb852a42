// Package pvetest runs a scripted, in-process Proxmox API endpoint for tests.
package pvetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/StealthBadger747/ProxVPS/internal/pveapi"
)

const (
	Ticket    = "PVE:root@pam:TESTTICKET"
	CSRFToken = "TESTCSRF"

	prefix = "/api2/json/"
)

// Call is one request received by the server.
type Call struct {
	Method string
	// Path is relative to /api2/json/.
	Path   string
	Form   url.Values
	Cookie string
	CSRF   string
}

// Reply is a scripted answer. A zero Status means 200.
type Reply struct {
	Status int
	Body   string
}

// HandlerFunc computes a reply from the received call.
type HandlerFunc func(Call) Reply

// Server is an httptest TLS server that answers from a route table keyed by
// "METHOD path". Unrouted calls get a 501 with a null data field.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string][]HandlerFunc
	calls  []Call
}

// NewServer starts a server that already answers access/ticket.
func NewServer() *Server {
	s := &Server{routes: map[string][]HandlerFunc{}}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	s.Handle(http.MethodPost, "access/ticket", http.StatusOK, Data(map[string]any{
		"ticket":              Ticket,
		"CSRFPreventionToken": CSRFToken,
		"username":            "root@pam",
	}))
	return s
}

// Handle replaces every reply for method and path with a fixed one.
func (s *Server) Handle(method, path string, status int, body string) {
	s.HandleFunc(method, path, func(Call) Reply { return Reply{Status: status, Body: body} })
}

// HandleFunc replaces every reply for method and path.
func (s *Server) HandleFunc(method, path string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[routeKey(method, path)] = []HandlerFunc{fn}
}

// Sequence scripts consecutive replies for method and path; the last one repeats.
func (s *Server) Sequence(method, path string, replies ...Reply) {
	fns := make([]HandlerFunc, 0, len(replies))
	for _, r := range replies {
		fns = append(fns, func(Call) Reply { return r })
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[routeKey(method, path)] = fns
}

// Calls returns every call received so far, login included.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo filters Calls by method and path.
func (s *Server) CallsTo(method, path string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Routes returns "METHOD path" for every received call except the login.
func (s *Server) Routes() []string {
	var out []string
	for _, c := range s.Calls() {
		if c.Path == "access/ticket" {
			continue
		}
		out = append(out, routeKey(c.Method, c.Path))
	}
	return out
}

// Reset forgets recorded calls; routes are kept.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// HostPort splits the listener address.
func (s *Server) HostPort() (string, int) {
	host, port, err := net.SplitHostPort(s.Listener.Addr().String())
	if err != nil {
		panic(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		panic(err)
	}
	return host, p
}

// Client returns an unauthenticated client that trusts the test certificate.
func (s *Server) Client(opts ...pveapi.Option) *pveapi.Client {
	host, port := s.HostPort()
	opts = append([]pveapi.Option{pveapi.WithHTTPClient(s.Server.Client())}, opts...)
	return pveapi.NewClient(host, port, opts...)
}

// HTTPClient exposes the TLS-trusting client of the underlying server.
func (s *Server) HTTPClient() *http.Client { return s.Server.Client() }

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	call := Call{
		Method: r.Method,
		Path:   strings.TrimPrefix(r.URL.Path, prefix),
		CSRF:   r.Header.Get("CSRFPreventionToken"),
	}
	if c, err := r.Cookie("PVEAuthCookie"); err == nil {
		call.Cookie = c.Value
	}
	if r.Method == http.MethodGet {
		call.Form = r.URL.Query()
	} else {
		body, _ := io.ReadAll(r.Body)
		call.Form, _ = url.ParseQuery(string(body))
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	key := routeKey(call.Method, call.Path)
	fns := s.routes[key]
	var fn HandlerFunc
	switch len(fns) {
	case 0:
	case 1:
		fn = fns[0]
	default:
		fn = fns[0]
		s.routes[key] = fns[1:]
	}
	s.mu.Unlock()

	reply := Reply{Status: http.StatusNotImplemented, Body: `{"data":null}`}
	if fn != nil {
		reply = fn(call)
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(reply.Status)
	_, _ = io.WriteString(w, reply.Body)
}

func routeKey(method, path string) string {
	return method + " " + strings.TrimPrefix(path, "/")
}

// Data wraps v in the API envelope.
func Data(v any) string {
	out, err := json.Marshal(map[string]any{"data": v})
	if err != nil {
		panic(fmt.Sprintf("pvetest: marshal data: %v", err))
	}
	return string(out)
}

// Errors builds an error envelope with null data.
func Errors(errs map[string]string) string {
	out, err := json.Marshal(map[string]any{"data": nil, "errors": errs})
	if err != nil {
		panic(fmt.Sprintf("pvetest: marshal errors: %v", err))
	}
	return string(out)
}

// Task is a typical UPID reply of an asynchronous command.
func Task(node, kind string) string {
	return Data("UPID:" + node + ":0000ABCD:00000000:00000000:" + kind + ":100:root@pam:")
}

// NodeStatus builds a nodes/{node}/status reply with the given free bytes.
func NodeStatus(memFree, rootFree uint64) string {
	return Data(map[string]any{
		"memory": map[string]any{"free": memFree, "total": memFree * 2, "used": memFree},
		"rootfs": map[string]any{"free": rootFree, "total": rootFree * 2, "used": rootFree, "avail": rootFree},
		"uptime": 1000,
		"cpu":    0.1,
	})
}
