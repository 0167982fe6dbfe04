package stream

import (
	"fmt"
	"net/url"
	"strings"

	"pkt.systems/fleetcon/schema"
)

// DefaultSubscribePath is the subscription prefix used by the execution backend.
const DefaultSubscribePath = "/ws/subscribe"

// Endpoint locates the subscription service.
type Endpoint struct {
	// BaseURL is the API origin, e.g. https://spug.example.com or
	// http://127.0.0.1:8000/prefix.
	BaseURL        string
	SubscribePath  string
	AuthQueryParam string
	AuthToken      string
}

// SubscribeURL builds ws(s)://<host>/<base>/<subscribe-path>/<token>/.
// wss is selected when the base URL is served over https.
func SubscribeURL(ep Endpoint, token schema.ExecutionToken) (string, error) {
	if strings.TrimSpace(string(token)) == "" {
		return "", schema.ErrInvalidToken
	}
	base := strings.TrimSpace(ep.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url must include a host")
	}
	subscribe := strings.Trim(ep.SubscribePath, "/")
	if subscribe == "" {
		subscribe = strings.Trim(DefaultSubscribePath, "/")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + subscribe + "/" + string(token) + "/"
	u.RawPath = ""
	u.Fragment = ""
	q := u.Query()
	if ep.AuthQueryParam != "" && ep.AuthToken != "" {
		q.Set(ep.AuthQueryParam, ep.AuthToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
