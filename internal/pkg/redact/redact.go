// Package redact маскирует чувствительные данные перед записью в лог:
// e-mail, токены, IP-адреса и идентификаторы сессий.
package redact

import (
	"net/netip"
	"strings"
)

// Email оставляет первые две руны локальной части и домен целиком.
//
//	"foobar@example.com" -> "fo***@example.com"
//	"ab@ex.com"          -> "***@ex.com"
//	"no-at-here"         -> "***"
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}

	r := []rune(local)
	if len(r) > 2 {
		return string(r[:2]) + "***@" + domain
	}

	return "***@" + domain
}

// Token возвращает короткий отпечаток токена: последние 6 символов.
// Этого хватает для корреляции записей, но не для повторного использования.
func Token(s string) string {
	const tail = 6
	if len(s) <= tail*2 {
		return "[REDACTED_TOKEN]"
	}

	return "…" + s[len(s)-tail:]
}

// IP обнуляет хостовую часть адреса: /24 для IPv4 и /48 для IPv6.
// Невалидный ввод заменяется на "***".
func IP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "***"
	}

	bits := 24
	if addr.Is6() && !addr.Is4In6() {
		bits = 48
	}

	p, err := addr.Unmap().Prefix(bits)
	if err != nil {
		return "***"
	}

	return p.String()
}

// SessionID скрывает случайный суффикс идентификатора сессии,
// сохраняя пользователя и время создания.
func SessionID(id string) string {
	i := strings.LastIndexByte(id, ':')
	if i < 0 {
		return "***"
	}

	return id[:i+1] + "***"
}

func Password() string { return "[REDACTED_PASSWORD]" }
