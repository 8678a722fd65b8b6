package utilities

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrustedProxies(t *testing.T) {
	p, err := ParseTrustedProxies(" 10.0.0.0/8, 192.168.1.7 ,,::1")
	require.NoError(t, err)
	require.Len(t, p, 3)
	assert.True(t, p.contains("10.4.5.6"))
	assert.True(t, p.contains("192.168.1.7"))
	assert.False(t, p.contains("192.168.1.8"))
	assert.True(t, p.contains("::1"))
	assert.True(t, p.contains("::ffff:10.1.1.1"), "mapped v4 matches v4 prefix")

	empty, err := ParseTrustedProxies("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseTrustedProxies("10.0.0.0/99")
	require.Error(t, err)
	_, err = ParseTrustedProxies("proxy.local")
	require.Error(t, err)
}

func TestTrustedProxies_Resolve(t *testing.T) {
	proxies, err := ParseTrustedProxies("10.0.0.0/8")
	require.NoError(t, err)

	tests := []struct {
		name    string
		proxies TrustedProxies
		remote  string
		xff     string
		realIP  string
		want    string
	}{
		{name: "no proxies ignores headers", remote: "203.0.113.9:5000", xff: "10.0.0.1", realIP: "10.0.0.2", want: "203.0.113.9"},
		{name: "untrusted peer ignores headers", proxies: proxies, remote: "203.0.113.9:5000", xff: "198.51.100.1", want: "203.0.113.9"},
		{name: "trusted peer forwards", proxies: proxies, remote: "10.0.0.5:80", xff: "198.51.100.1", want: "198.51.100.1"},
		{name: "rightmost untrusted hop wins", proxies: proxies, remote: "10.0.0.5:80", xff: "1.2.3.4, 198.51.100.1, 10.0.0.9", want: "198.51.100.1"},
		{name: "garbage hop stops the walk", proxies: proxies, remote: "10.0.0.5:80", xff: "198.51.100.1, nonsense", want: "10.0.0.5"},
		{name: "x-real-ip when no xff", proxies: proxies, remote: "10.0.0.5:80", realIP: "198.51.100.3", want: "198.51.100.3"},
		{name: "invalid x-real-ip ignored", proxies: proxies, remote: "10.0.0.5:80", realIP: "bogus", want: "10.0.0.5"},
		{name: "all hops trusted falls back to peer", proxies: proxies, remote: "10.0.0.5:80", xff: "10.1.1.1", want: "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, tt.proxies.Resolve(r))
		})
	}
}

func TestClientIP_UsesResolvedAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:5000"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r), "without the middleware only the peer counts")

	proxies, err := ParseTrustedProxies("203.0.113.0/24")
	require.NoError(t, err)
	var got string
	proxies.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	})).ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "10.0.0.1", got)
}
