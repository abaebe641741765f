package httpclient

import (
	"net/http"
	"time"
)

// sharedTransport is reused across all pooled clients so the knowledge-base
// and generation clients share idle connections.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     120 * time.Second,
	DisableKeepAlives:   false,
}

// NewPooledClient creates an http.Client on the shared transport.
// A zero timeout leaves the client unbounded, which long-lived streams need.
func NewPooledClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}
