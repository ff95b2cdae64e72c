// Package httpclient configures the HTTP client used for network fetches.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates the client used for cache fills, tile downloads and
// passthrough traffic. The overall timeout caps a single fetch so a dead
// network degrades into the fallback path instead of hanging a request.
func NewOutbound(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
