package proxypool

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"activator/internal/models"
)

// ErrInvalidProxyURL is returned for URLs without a supported scheme, host or port.
var ErrInvalidProxyURL = errors.New("invalid proxy url")

var supportedSchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true,
}

// ParseProxyURL splits raw into the columns stored for a proxy.
func ParseProxyURL(raw string) (models.Proxy, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return models.Proxy{}, fmt.Errorf("%w: %v", ErrInvalidProxyURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !supportedSchemes[scheme] {
		return models.Proxy{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxyURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return models.Proxy{}, fmt.Errorf("%w: missing host", ErrInvalidProxyURL)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port < 1 || port > 65535 {
		return models.Proxy{}, fmt.Errorf("%w: missing or bad port", ErrInvalidProxyURL)
	}

	p := models.Proxy{
		ProxyURL: raw,
		Protocol: scheme,
		Host:     host,
		Port:     port,
		IsActive: true,
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			p.Username = &name
		}
		if pw, ok := u.User.Password(); ok {
			p.Password = &pw
		}
	}
	return p, nil
}
