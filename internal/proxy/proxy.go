package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/netutil"

	"github.com/nao1215/onionhost/internal/model"
)

// defaultMaxConnections bounds concurrently served inbound connections.
const defaultMaxConnections = 256

// strippedHeaders are never copied in either direction. Content-Encoding
// and Content-Length describe a body the proxy re-encodes; the rest are
// hop-by-hop headers that only apply to a single connection.
var strippedHeaders = map[string]bool{
	"Content-Encoding":    true,
	"Content-Length":      true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Connection":    true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Proxy is a running local reverse proxy.
type Proxy struct {
	upstream string
	listener net.Listener
	server   *http.Server
	client   *http.Client
	logger   *slog.Logger
	port     int

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// options holds Start settings.
type options struct {
	logger         *slog.Logger
	maxConnections int
	transport      http.RoundTripper
}

// Option configures Start.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxConnections bounds how many inbound connections are served at
// once. Further connections wait in the accept queue.
func WithMaxConnections(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConnections = n
		}
	}
}

// WithTransport replaces the upstream transport. The transport must not
// decompress responses itself.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		if rt != nil {
			o.transport = rt
		}
	}
}

// Start binds 127.0.0.1 on an OS-assigned port and serves requests by
// forwarding them to 127.0.0.1:upstreamPort. The port is bound before
// Start returns. The proxy runs until Close is called or ctx is done.
func Start(ctx context.Context, upstreamPort int, opts ...Option) (*Proxy, error) {
	const op = "proxy.Start"

	o := options{
		logger:         slog.Default(),
		maxConnections: defaultMaxConnections,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = &http.Transport{
			Proxy:               nil,
			DisableCompression:  true,
			MaxIdleConnsPerHost: 32,
		}
	}

	if upstreamPort <= 0 || upstreamPort > 65535 {
		return nil, model.NewError(model.KindConfig, op, fmt.Sprintf("upstream port %d out of range", upstreamPort), nil)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, model.NewError(model.KindProxyBind, op, "failed to bind local proxy", err)
	}

	p := &Proxy{
		upstream: "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(upstreamPort)),
		listener: netutil.LimitListener(listener, o.maxConnections),
		client: &http.Client{
			Transport: o.transport,
			// Redirects belong to the downstream client.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: o.logger,
		port:   listener.Addr().(*net.TCPAddr).Port,
		done:   make(chan struct{}),
	}
	//nolint:gosec // connections are unbounded in duration on purpose; concurrency is capped by LimitListener
	p.server = &http.Server{
		Handler:  p,
		ErrorLog: slog.NewLogLogger(o.logger.Handler(), slog.LevelDebug),
	}

	go p.serve()
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Close() //nolint:errcheck // shutdown on cancellation
		case <-p.done:
		}
	}()

	p.logger.Debug("local proxy listening",
		"port", p.port,
		"upstream", p.upstream)
	return p, nil
}

func (p *Proxy) serve() {
	defer close(p.done)
	if err := p.server.Serve(p.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		p.logger.Error("local proxy stopped", "error", err)
	}
}

// Port returns the bound local port.
func (p *Proxy) Port() int {
	return p.port
}

// Addr returns the bound address as host:port.
func (p *Proxy) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port))
}

// Done is closed when the proxy has stopped serving.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}

// Close stops the proxy immediately, dropping in-flight requests.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.server.Close()
		<-p.done
		if t, ok := p.client.Transport.(interface{ CloseIdleConnections() }); ok {
			t.CloseIdleConnections()
		}
	})
	return p.closeErr
}

// ServeHTTP forwards one request. Every failure is answered with a 502
// for this request only.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, header, body, err := p.forward(r)
	if err != nil {
		p.logger.Warn("proxy request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = fmt.Fprintf(w, "Proxy error: %v", err) //nolint:errcheck // client may be gone
		return
	}

	copyHeaders(w.Header(), header)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		p.logger.Debug("failed to write proxied response", "path", r.URL.Path, "error", err)
	}
}

// forward performs the upstream round trip and returns the decoded
// response. Errors are model.KindForward errors.
func (p *Proxy) forward(r *http.Request) (int, http.Header, []byte, error) {
	const op = "proxy.forward"

	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		return 0, nil, nil, model.NewError(model.KindForward, op, "failed to read request body", err)
	}

	target := p.upstream + r.URL.RequestURI()
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, nil, model.NewError(model.KindForward, op, "failed to build upstream request", err)
	}
	copyHeaders(out.Header, r.Header)
	out.Header.Set("Accept-Encoding", acceptEncoding)
	out.Host = r.Host
	if len(reqBody) == 0 {
		out.Body = http.NoBody
		out.ContentLength = 0
	}

	resp, err := p.client.Do(out)
	if err != nil {
		return 0, nil, nil, model.NewError(model.KindForward, op, "upstream request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, model.NewError(model.KindForward, op, "failed to read upstream response", err)
	}
	if len(raw) == 0 {
		return resp.StatusCode, resp.Header, raw, nil
	}
	body, err := decodeBody(strings.Join(resp.Header.Values("Content-Encoding"), ","), raw)
	if err != nil {
		return 0, nil, nil, model.NewError(model.KindForward, op, "", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// copyHeaders copies src into dst, skipping stripped headers and any
// header named by src's Connection header.
func copyHeaders(dst, src http.Header) {
	connectionScoped := make(map[string]bool)
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				connectionScoped[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for key, values := range src {
		canonical := http.CanonicalHeaderKey(key)
		if strippedHeaders[canonical] || connectionScoped[canonical] {
			continue
		}
		for _, value := range values {
			dst.Add(canonical, value)
		}
	}
}
