package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name string
		h    http.Header
		want string
	}{
		{"no headers", headers(), Unknown},
		{"cdn header wins", headers("cf-connecting-ip", "203.0.113.7", "X-Forwarded-For", "198.51.100.1"), "203.0.113.7"},
		{"invalid cdn header is skipped", headers("CF-Connecting-IP", "not-an-ip", "X-Forwarded-For", "198.51.100.1"), "198.51.100.1"},
		{"skips private entries in chain", headers("X-Forwarded-For", "192.168.1.5, 10.0.0.3, 198.51.100.9"), "198.51.100.9"},
		{"skips loopback", headers("X-Forwarded-For", "127.0.0.1, 203.0.113.10"), "203.0.113.10"},
		{"skips ipv6 loopback", headers("X-Forwarded-For", "::1, 203.0.113.11"), "203.0.113.11"},
		{"skips link local", headers("X-Forwarded-For", "169.254.1.1, fe80::1, 203.0.113.12"), "203.0.113.12"},
		{"skips unique local ipv6", headers("X-Forwarded-For", "fd00::5, 2001:db8:0:0:0:0:0:1"), "2001:db8::1"},
		{"skips malformed entries", headers("X-Forwarded-For", "garbage, 300.1.1.1, 198.51.100.20"), "198.51.100.20"},
		{"full ipv6 form", headers("X-Forwarded-For", "2001:0db8:85a3:0000:0000:8a2e:0370:7334"), "2001:db8:85a3::8a2e:370:7334"},
		{"real ip when chain is private", headers("X-Forwarded-For", "10.0.0.1", "X-Real-IP", "203.0.113.30"), "203.0.113.30"},
		{"private real ip is ignored", headers("X-Real-IP", "192.168.0.10"), Unknown},
		{"falls back to first private entry", headers("X-Forwarded-For", "10.1.2.3, 192.168.1.1", "X-Real-IP", "172.16.0.4"), "10.1.2.3"},
		{"malformed first entry gives unknown", headers("X-Forwarded-For", "nope, 10.0.0.1"), Unknown},
		{"ipv4 mapped is normalized", headers("X-Forwarded-For", "::ffff:203.0.113.40"), "203.0.113.40"},
		{"zones are rejected", headers("X-Forwarded-For", "fe80::1%eth0"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClientIP(tt.h))
		})
	}
}

func TestClientIP_NeverPicksPrivateWhenPublicExists(t *testing.T) {
	for _, private := range []string{"192.168.1.5", "127.0.0.1", "::1", "10.9.9.9", "172.20.0.1"} {
		h := headers("X-Forwarded-For", private+", 198.51.100.77")
		assert.Equal(t, "198.51.100.77", ClientIP(h), "chain starting with %s", private)
	}
}

func TestFromRequest_RemoteAddrFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "198.51.100.2:5555"

	assert.Equal(t, Unknown, FromRequest(r, false))
	assert.Equal(t, "198.51.100.2", FromRequest(r, true))

	r.Header.Set("X-Forwarded-For", "203.0.113.1")
	assert.Equal(t, "203.0.113.1", FromRequest(r, true), "headers take precedence over the socket")

	r = httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "[2001:db8::7]:443"
	assert.Equal(t, "2001:db8::7", FromRequest(r, true))

	r.RemoteAddr = "bogus"
	assert.Equal(t, Unknown, FromRequest(r, true))
}

func TestIsPrivate(t *testing.T) {
	for _, s := range []string{"10.0.0.1", "172.16.5.4", "172.31.255.255", "192.168.0.1", "127.0.0.1", "169.254.10.10", "::1", "fe80::abcd", "fc00::1", "0.0.0.0"} {
		addr, ok := ParseIP(s)
		assert.True(t, ok, s)
		assert.True(t, IsPrivate(addr), s)
	}
	for _, s := range []string{"8.8.8.8", "172.32.0.1", "203.0.113.5", "2001:4860:4860::8888"} {
		addr, ok := ParseIP(s)
		assert.True(t, ok, s)
		assert.False(t, IsPrivate(addr), s)
	}
}
