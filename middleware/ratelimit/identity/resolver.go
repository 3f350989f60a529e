package identity

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Unknown é o marcador devolvido quando nenhum header traz um IP confiável.
const Unknown = "unknown"

const (
	HeaderCDNClientIP  = "CF-Connecting-IP"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
)

// maxChainEntries limita quantas entradas do X-Forwarded-For são inspecionadas.
const maxChainEntries = 32

// ClientIP devolve o IP mais confiável presente nos headers, ou Unknown.
//
// Ordem de preferência (primeiro que casar vence):
//  1. header da CDN, se for um IP válido
//  2. primeira entrada válida e pública do X-Forwarded-For (esquerda -> direita)
//  3. X-Real-IP, se válido e público
//  4. primeira entrada do X-Forwarded-For mesmo que privada, se válida
//
// Formas IPv6 comprimidas (ex: "2001:db8::1") são aceitas; zonas ("fe80::1%eth0") não.
func ClientIP(h http.Header) string {
	if addr, ok := ParseIP(h.Get(HeaderCDNClientIP)); ok {
		return addr.String()
	}

	xff := h.Get(HeaderForwardedFor)
	var first netip.Addr
	rest := xff
	for i := 0; i < maxChainEntries && rest != ""; i++ {
		var part string
		part, rest, _ = strings.Cut(rest, ",")
		addr, ok := ParseIP(part)
		if i == 0 {
			first = addr
		}
		if ok && !IsPrivate(addr) {
			return addr.String()
		}
	}

	if addr, ok := ParseIP(h.Get(HeaderRealIP)); ok && !IsPrivate(addr) {
		return addr.String()
	}

	if first.IsValid() {
		return first.String()
	}
	return Unknown
}

// FromRequest aplica ClientIP e, se trustRemoteAddr estiver ligado, usa o
// endereço do socket quando os headers não resolvem nada.
func FromRequest(r *http.Request, trustRemoteAddr bool) string {
	ip := ClientIP(r.Header)
	if ip != Unknown || !trustRemoteAddr {
		return ip
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, ok := ParseIP(host); ok {
		return addr.String()
	}
	return Unknown
}

// ParseIP valida a sintaxe de um IPv4 (dotted-quad) ou IPv6.
// IPv4 mapeado em IPv6 é normalizado para IPv4.
func ParseIP(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// IsPrivate cobre 10/8, 172.16/12, 192.168/16, 127/8, 169.254/16, ::1, fe80::/10,
// fc00::/7 e o endereço não especificado.
func IsPrivate(addr netip.Addr) bool {
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified()
}
