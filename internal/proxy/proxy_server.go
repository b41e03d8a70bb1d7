package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/BetterCallFirewall/postcap/internal/cert"
	"github.com/BetterCallFirewall/postcap/internal/compress"
	"github.com/BetterCallFirewall/postcap/internal/models"
	"github.com/BetterCallFirewall/postcap/internal/postman"
	"github.com/BetterCallFirewall/postcap/internal/storage"
	"github.com/BetterCallFirewall/postcap/internal/websocket"
)

// Recorder consumes captures and knows which host is being recorded.
type Recorder interface {
	Observe(models.ObservedRequest) error
	Target() string
}

// Broadcaster pushes capture events to the live feed.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// hopHeaders never travel past a proxy hop.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Server is the capture proxy. Plain HTTP requests are proxied and
// captured; CONNECT requests for the recorded host are intercepted
// with a generated certificate, everything else is tunneled raw.
type Server struct {
	addr     string
	recorder Recorder
	captures *storage.CaptureLog
	certs    *cert.Manager
	upstream *Upstream
	feed     Broadcaster
	logger   *slog.Logger
	server   *http.Server
}

func NewServer(addr string, rec Recorder, captures *storage.CaptureLog, certs *cert.Manager, upstream *Upstream, feed Broadcaster, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		recorder: rec,
		captures: captures,
		certs:    certs,
		upstream: upstream,
		feed:     feed,
		logger:   logger.With("component", "proxy"),
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           http.HandlerFunc(s.handleRequest),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	s.logger.Info("proxy listening", "addr", s.addr, "route", s.upstream.RouteInfo(), "ca", s.certs.CAPath())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	s.handleHTTP(w, r)
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	targetURL := r.URL.String()
	if !r.URL.IsAbs() {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		targetURL = scheme + "://" + r.Host + r.RequestURI
	}

	capture := s.captureRequest(r, targetURL)
	s.record(capture)

	resp, err := s.forward(r, targetURL)
	if err != nil {
		s.logger.Warn("forwarding failed", "url", targetURL, "error", err)
		http.Error(w, "proxy error: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	capture.Response = s.captureResponse(resp)
	s.captures.Add(capture)
	s.feed.Broadcast(websocket.EventRequest, capture)

	s.copyResponse(w, resp)
}

// record hands a capture to the recorder. A recording failure is a
// capture problem, not a proxying one, so traffic keeps flowing.
func (s *Server) record(capture models.ObservedRequest) {
	if err := s.recorder.Observe(capture); err != nil {
		s.logger.Warn("recording request failed", "url", capture.URL, "error", err)
	}
}

// captureRequest reads and restores the body, undoes any content
// encoding for the capture and snapshots the request.
func (s *Server) captureRequest(r *http.Request, targetURL string) models.ObservedRequest {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	decoded := body
	if enc := r.Header.Get("Content-Encoding"); enc != "" && len(body) > 0 {
		if b, err := compress.Decode(body, enc); err == nil {
			decoded = b
		} else {
			s.logger.Debug("keeping body encoded", "encoding", enc, "error", err)
		}
	}

	return models.ObservedRequest{
		ID:        uuid.New().String(),
		Host:      hostOnly(r.URL.Host, r.Host),
		URL:       targetURL,
		Method:    r.Method,
		Headers:   captureHeaders(r.Header),
		Body:      string(decoded),
		Timestamp: time.Now(),
	}
}

func (s *Server) captureResponse(resp *http.Response) *models.ObservedResponse {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(resp.Body)
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}

	decoded := body
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && len(body) > 0 {
		if b, err := compress.Decode(body, enc); err == nil {
			decoded = b
		}
	}

	return &models.ObservedResponse{
		Status:  resp.StatusCode,
		Headers: captureHeaders(resp.Header),
		Body:    string(decoded),
	}
}

func (s *Server) forward(r *http.Request, targetURL string) (*http.Response, error) {
	req, err := http.NewRequest(r.Method, targetURL, r.Body)
	if err != nil {
		return nil, err
	}

	req.Header = r.Header.Clone()
	for _, name := range hopHeaders {
		req.Header.Del(name)
	}
	req.ContentLength = r.ContentLength

	return s.upstream.Client().Do(req)
}

func (s *Server) copyResponse(w http.ResponseWriter, resp *http.Response) {
	for name, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// handleConnect intercepts the recorded host and tunnels the rest.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if hostOnly("", r.Host) == s.recorder.Target() {
		s.intercept(w, r)
		return
	}
	s.tunnel(w, r)
}

// intercept terminates TLS with a generated leaf and replays every
// request on the connection through the capture path.
func (s *Server) intercept(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()

	clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	host := hostOnly("", r.Host)
	tlsConfig, err := s.certs.TLSConfig(host)
	if err != nil {
		s.logger.Error("issuing certificate failed", "host", host, "error", err)
		return
	}

	tlsConn := tls.Server(clientConn, tlsConfig)
	defer tlsConn.Close()
	if err := tlsConn.Handshake(); err != nil {
		s.logger.Debug("tls handshake failed", "host", host, "error", err)
		return
	}

	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}

		req.URL.Scheme = "https"
		req.URL.Host = r.Host
		req.RemoteAddr = r.RemoteAddr

		s.handleIntercepted(tlsConn, req)

		if req.Header.Get("Connection") == "close" {
			return
		}
	}
}

func (s *Server) handleIntercepted(conn net.Conn, req *http.Request) {
	capture := s.captureRequest(req, req.URL.String())
	s.record(capture)

	resp, err := s.forward(req, req.URL.String())
	if err != nil {
		s.logger.Warn("forwarding failed", "url", capture.URL, "error", err)
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		return
	}
	defer resp.Body.Close()

	capture.Response = s.captureResponse(resp)
	s.captures.Add(capture)
	s.feed.Broadcast(websocket.EventRequest, capture)

	resp.Write(conn)
}

// tunnel pipes bytes without looking at them.
func (s *Server) tunnel(w http.ResponseWriter, r *http.Request) {
	destConn, err := s.upstream.Tunnel(r.Host)
	if err != nil {
		s.logger.Warn("connect tunnel failed", "host", r.Host, "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		destConn.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		destConn.Close()
		return
	}

	clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	go transfer(destConn, clientConn)
	go transfer(clientConn, destConn)
}

func transfer(dst io.WriteCloser, src io.ReadCloser) {
	defer dst.Close()
	defer src.Close()
	io.Copy(dst, src)
}

// hostOnly prefers the URL authority over the Host header and strips
// any port.
func hostOnly(urlHost, reqHost string) string {
	h := urlHost
	if h == "" {
		h = reqHost
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}

// captureHeaders flattens the header map into sorted name/value pairs.
// The wire order is gone by the time net/http hands over the map, so
// sorted names keep captures deterministic. Only the first value of a
// repeated header is kept.
func captureHeaders(h http.Header) []postman.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := make([]postman.Header, 0, len(names))
	for _, name := range names {
		values := h[name]
		if len(values) == 0 {
			continue
		}
		headers = append(headers, postman.Header{Name: name, Value: values[0]})
	}
	return headers
}
