// Package httpsource implements the built-in "http"/"https" DownloadSource,
// combining C5 (RangeProbe) with C4's Open/ResumeState. It is grounded on
// the teacher's ProbeServer (internal/engine/probe.go) for probing and
// newConcurrentClient (internal/engine/concurrent/downloader.go) for the
// tuned transport, generalised behind the source.Source interface so the
// engine can treat HTTP the same as FTP or BitTorrent.
package httpsource

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

const (
	dialTimeout           = 10 * time.Second
	keepAliveDuration     = 30 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 20 * time.Second
	expectContinueTimeout = 1 * time.Second
	idleConnTimeout       = 90 * time.Second
	defaultMaxIdleConns   = 100
)

// newClient builds an http.Client tuned for many concurrent ranged GETs
// against a single host, mirroring the teacher's newConcurrentClient:
// HTTP/1.1 is forced so each segment gets its own TCP connection rather
// than being multiplexed over one HTTP/2 stream.
func newClient(maxConnsPerHost int) *http.Client {
	if maxConnsPerHost < 1 {
		maxConnsPerHost = 4
	}
	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: maxConnsPerHost + 2,
		MaxConnsPerHost:     maxConnsPerHost,

		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: expectContinueTimeout,

		DisableCompression: true,
		ForceAttemptHTTP2:  false,
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAliveDuration,
		}).DialContext,
	}
	return &http.Client{Transport: transport}
}
