package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"192.0.2.10:51234":  "192.0.2.10",
		"[2001:db8::1]:443": "2001:db8::1",
		"[::1]:8080":        "::1",
		// No port: returned whole, not chopped at the last colon
		"2001:db8::1": "2001:db8::1",
		"192.0.2.10":  "192.0.2.10",
	}
	for addr, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		assert.Equal(t, want, clientIP(r), addr)
	}
}
