// Package providerhttp holds the HTTP status→error-kind mapping and client
// construction shared by every network provider (distilled spec §6), so
// each provider package only wires its own endpoint shape.
package providerhttp

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sayproxy/sayproxy/internal/apperr"
)

// ClassifyStatus maps an HTTP response status code to the error kind the
// orchestrator dispatches retries on.
func ClassifyStatus(code int) apperr.Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.KindAuthentication
	case code == http.StatusTooManyRequests || code == http.StatusPaymentRequired || code == http.StatusConflict:
		return apperr.KindQuota
	case code >= 500:
		return apperr.KindProvider
	default:
		return apperr.KindInternal
	}
}

// NewError builds the typed error for a non-2xx response, reading a bounded
// preview of the body for the message.
func NewError(providerName string, status int, body io.Reader) error {
	preview, _ := io.ReadAll(io.LimitReader(body, 4096))
	kind := ClassifyStatus(status)
	return apperr.New(kind, fmt.Sprintf("%s: status %d: %s", providerName, status, string(preview)))
}

// ClassifyTransportError wraps a network-level failure (DNS, TLS, connect,
// read) from http.Client.Do as a NetworkError; timeouts and connection
// refusals go through net.Error.
func ClassifyTransportError(providerName string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if asNetError(err, &netErr) {
		return apperr.Wrap(apperr.KindNetwork, fmt.Sprintf("%s: network error", providerName), err)
	}
	return apperr.Wrap(apperr.KindNetwork, fmt.Sprintf("%s: request failed", providerName), err)
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ClientOptions configures the HTTP clients providers build from it.
type ClientOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// DefaultClientOptions mirrors the 10 s connect / 30 s read defaults from
// distilled spec §5.
var DefaultClientOptions = ClientOptions{
	ConnectTimeout: 10 * time.Second,
	ReadTimeout:    30 * time.Second,
}

// NewClient builds an *http.Client with a connect-timeout dialer and an
// overall per-request read timeout.
func NewClient(opts ClientOptions) *http.Client {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	return &http.Client{
		Timeout: opts.ReadTimeout,
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
		},
	}
}
