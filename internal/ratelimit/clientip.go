package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const fallbackIP = "127.0.0.1"

// ClientIP извлекает адрес клиента в фиксированном порядке:
// CF-Connecting-IP, первый элемент X-Forwarded-For, X-Real-IP,
// адрес соединения и, наконец, loopback.
func ClientIP(r *http.Request) string {
	if ip := validIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := validIP(first); ip != "" {
			return ip
		}
	}

	if ip := validIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if ip := validIP(host); ip != "" {
			return ip
		}
	}

	return fallbackIP
}

// validIP возвращает каноническую запись адреса или "".
func validIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}

	return addr.Unmap().String()
}

// TrustedSkip возвращает предикат, исключающий из учёта запросы,
// пришедшие с адреса соединения внутри одной из сетей prefixes.
// Заголовки X-Forwarded-For и подобные не учитываются: их задаёт клиент.
func TrustedSkip(prefixes []netip.Prefix) func(*http.Request) bool {
	if len(prefixes) == 0 {
		return func(*http.Request) bool { return false }
	}

	return func(r *http.Request) bool {
		addr, ok := peerAddr(r)
		if !ok {
			return false
		}

		for _, p := range prefixes {
			if p.Contains(addr) {
				return true
			}
		}

		return false
	}
}

// peerAddr возвращает адрес TCP-соединения запроса.
func peerAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return netip.Addr{}, false
	}

	return addr.Unmap(), true
}
