// Package transport implements the wire transport: a gorilla/websocket
// stream at a fixed /ws path, a plain /health endpoint, and the
// connection-code grammar that resolves a short address into a
// transport URL.
package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// WSPath is the fixed path component for the streaming transport.
const WSPath = "/ws"

// tunnelSuffixes are well-known tunnel provider domains whose proxies
// terminate TLS and, for some providers, require the upgrade request to
// land on the bare domain rather than a sub-path.
var tunnelSuffixes = []string{
	".ngrok.io",
	".ngrok-free.app",
	".ngrok.app",
	".loca.lt",
	".serveo.net",
	".trycloudflare.com",
}

func isTunnelDomain(host string) bool {
	host = strings.ToLower(host)
	for _, suf := range tunnelSuffixes {
		if strings.HasSuffix(host, suf) {
			return true
		}
	}
	return false
}

func hostnameOf(hostport string) string {
	h := hostport
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	if host, _, err := splitHostPortLoose(h); err == nil {
		return host
	}
	return h
}

// splitHostPortLoose splits "host:port" without requiring a valid port,
// since IPv6 literals and bare hosts both need to pass through here.
func splitHostPortLoose(hostport string) (host, port string, err error) {
	i := strings.LastIndexByte(hostport, ':')
	if i < 0 {
		return hostport, "", nil
	}
	return hostport[:i], hostport[i+1:], nil
}

func isNumericPort(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

// ParseConnectionCode resolves a connection code into a streaming
// transport URL, per the grammar in the wire protocol spec:
//
//   - melq://<host>:<port>   -> plain transport at /ws
//   - https://<host>[:port]  -> TLS transport at /ws (tunnel domains omit /ws)
//   - http://<host>:<port>   -> plain transport at /ws, upgraded to TLS
//     for well-known tunnel domains
//   - <host>:<port> (numeric) -> plain transport at /ws
//   - bare domain containing a dot -> TLS transport at /ws
func ParseConnectionCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty connection code")
	}

	switch {
	case strings.HasPrefix(code, "melq://"):
		hostport := strings.TrimPrefix(code, "melq://")
		if hostport == "" {
			return "", fmt.Errorf("melq:// connection code missing host")
		}
		return "ws://" + hostport + WSPath, nil

	case strings.HasPrefix(code, "https://"):
		rest := strings.TrimPrefix(code, "https://")
		if rest == "" {
			return "", fmt.Errorf("https:// connection code missing host")
		}
		if isTunnelDomain(hostnameOf(rest)) {
			return "wss://" + rest, nil
		}
		return "wss://" + rest + WSPath, nil

	case strings.HasPrefix(code, "http://"):
		rest := strings.TrimPrefix(code, "http://")
		if rest == "" {
			return "", fmt.Errorf("http:// connection code missing host")
		}
		if isTunnelDomain(hostnameOf(rest)) {
			return "wss://" + rest + WSPath, nil
		}
		return "ws://" + rest + WSPath, nil

	default:
		host, port, _ := splitHostPortLoose(code)
		if port != "" && isNumericPort(port) && host != "" {
			return "ws://" + code + WSPath, nil
		}
		if strings.Contains(code, ".") {
			return "wss://" + code + WSPath, nil
		}
		return "", fmt.Errorf("unrecognized connection code: %q", code)
	}
}

// ValidURL reports whether s parses as an absolute URL. internal/client
// calls this on the URL ParseConnectionCode resolves to, before dialing.
func ValidURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
