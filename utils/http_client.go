// Package utils: utility helpers shared by main.
package utils

import (
	"net"
	"net/http"
	"time"
)

// Dialer returns the dialer for outgoing connections. A non-nil
// localAddr pins them to one network interface.
func Dialer(localAddr *net.TCPAddr) *net.Dialer {
	return &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		LocalAddr: localAddr,
	}
}

// MediaClient returns the HTTP client for media downloads. Downloads
// run as long as a track takes to fetch, so there is no overall
// timeout; the dial and first-byte phases are bounded instead.
func MediaClient(localAddr *net.TCPAddr) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           Dialer(localAddr).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}

// GatewayClient returns the HTTP client for gateway and auth requests:
// same dialer as MediaClient, plus an overall request timeout since
// gateway responses are small.
func GatewayClient(localAddr *net.TCPAddr) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			Proxy:       http.ProxyFromEnvironment,
			DialContext: Dialer(localAddr).DialContext,
		},
	}
}
