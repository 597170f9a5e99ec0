package audit

import (
	"net"
	"net/http"
	"strings"
)

// ClientInfo is the coarse classification of a user agent.
type ClientInfo struct {
	Device  string
	Browser string
	OS      string
}

// ParseUserAgent classifies ua by substring. Edge agents also advertise
// Chrome, Chrome agents advertise Safari, Android agents advertise Linux and
// iOS agents advertise Mac OS, so the more specific token is checked first.
func ParseUserAgent(ua string) ClientInfo {
	info := ClientInfo{Device: "Desktop", Browser: "Unknown", OS: "Unknown"}
	if strings.Contains(ua, "Mobile") {
		info.Device = "Mobile"
	}

	switch {
	case strings.Contains(ua, "Edg/"), strings.Contains(ua, "Edge/"):
		info.Browser = "Edge"
	case strings.Contains(ua, "Chrome"), strings.Contains(ua, "CriOS"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "Firefox"), strings.Contains(ua, "FxiOS"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "Safari"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "Android"):
		info.OS = "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		info.OS = "iOS"
	case strings.Contains(ua, "Windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "Mac OS"), strings.Contains(ua, "Macintosh"):
		info.OS = "macOS"
	case strings.Contains(ua, "Linux"):
		info.OS = "Linux"
	}
	return info
}

// ClientIP prefers X-Forwarded-For (first hop), then X-Real-IP, then the
// connection address. It returns "unknown" when nothing is available.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}

// RequestInfo is the request metadata captured with each entry.
type RequestInfo struct {
	IP        string
	UserAgent string
	Method    string
	URL       string
}

// RequestInfoFrom extracts RequestInfo from an inbound HTTP request.
func RequestInfoFrom(r *http.Request) RequestInfo {
	return RequestInfo{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		URL:       r.URL.RequestURI(),
	}
}
