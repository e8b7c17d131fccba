// Package provider holds the outbound adapters for speech-to-text, response
// generation, speech synthesis, and telephony control.
package provider

import (
	"net/http"
	"time"
)

// newPooledHTTPClient returns an http.Client with connection pooling tuned
// for many short provider calls per live session.
func newPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
