package proxy

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Upstream routes outbound traffic either directly or through a
// chained proxy (Burp, mitmproxy, corporate egress).
type Upstream struct {
	addr    string
	enabled bool
	client  *http.Client
}

// NewUpstream builds the router. An empty addr means direct egress.
func NewUpstream(addr string) *Upstream {
	u := &Upstream{addr: addr, enabled: addr != ""}

	if u.enabled {
		proxyURL := &url.URL{Scheme: "http", Host: addr}
		u.client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
				TLSClientConfig: &tls.Config{
					// the chained proxy answers with its own CA
					InsecureSkipVerify: true,
				},
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout:       30 * time.Second,
			CheckRedirect: noRedirects,
		}
	} else {
		u.client = &http.Client{
			Timeout:       30 * time.Second,
			CheckRedirect: noRedirects,
		}
	}

	return u
}

// noRedirects hands redirects back to the real client untouched.
func noRedirects(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}

func (u *Upstream) Enabled() bool {
	return u.enabled
}

// Client returns the forwarding client, chained or direct.
func (u *Upstream) Client() *http.Client {
	return u.client
}

// Tunnel opens a raw TCP path to host ("host:port"), handshaking
// CONNECT through the chained proxy when one is configured.
func (u *Upstream) Tunnel(host string) (net.Conn, error) {
	if !u.enabled {
		return net.DialTimeout("tcp", host, 10*time.Second)
	}

	conn, err := net.DialTimeout("tcp", u.addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing upstream %s: %w", u.addr, err)
	}

	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", host, host)

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("upstream connect to %s: %w", host, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("upstream connect to %s: %s", host, resp.Status)
	}

	return conn, nil
}

// RouteInfo describes the egress path for logs.
func (u *Upstream) RouteInfo() string {
	if u.enabled {
		return "via upstream " + u.addr
	}
	return "direct"
}
