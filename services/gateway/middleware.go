package gateway

import (
	"log/slog"
	"net"
	"net/http"
)

// lanOnly rejects clients outside the operator's network. The vault is
// meant to run on a workstation or a box on the office LAN, never to
// face the internet.
func lanOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		ip := net.ParseIP(host)
		if ip == nil || !(ip.IsLoopback() || ip.IsPrivate()) {
			slog.Warn("rejected request from outside the LAN",
				"remote", r.RemoteAddr, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "Forbidden: Only local/LAN access is allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}
