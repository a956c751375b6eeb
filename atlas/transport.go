package atlas

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// IPVersion selects the address family used to reach the API.
type IPVersion int

const (
	// IPAny allows connections over either IPv4 or IPv6
	IPAny IPVersion = iota
	// IPv4Only forces connections over IPv4 only
	IPv4Only
	// IPv6Only forces connections over IPv6 only
	IPv6Only
)

func (v IPVersion) network() string {
	switch v {
	case IPv4Only:
		return "tcp4"
	case IPv6Only:
		return "tcp6"
	}
	return "tcp"
}

// newHTTPClient returns a traced client whose dialer is pinned to the
// given address family.
func newHTTPClient(ipv IPVersion) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 40 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, ipv.network(), addr)
		},
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   60 * time.Second,
	}
}
