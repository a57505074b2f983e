package httpclient

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// ProxyFromEnvironment mounts HTTP_PROXY/HTTPS_PROXY/NO_PROXY (and their
// lowercase forms) the way the standard library's
// http.ProxyFromEnvironment does, but built directly on
// golang.org/x/net/http/httpproxy so the resolved configuration can be
// logged and tested independently of a live transport.
func ProxyFromEnvironment(req *http.Request) (*url.URL, error) {
	cfg := httpproxy.FromEnvironment()
	return cfg.ProxyFunc()(req.URL)
}
