package httpapi

import "time"

// Config defines the development execution backend settings.
type Config struct {
	Addr string
	// BaseURL is the public URL the backend is reachable at, for example
	// behind a proxy. Empty derives it from Addr.
	BaseURL  string
	BasePath string
	// APIToken, when set, is required as X-Token on REST calls and as the
	// x-token query parameter on subscriptions. Result polling stays open.
	APIToken          string
	KeepaliveInterval time.Duration
	HandshakeTimeout  time.Duration
	LineDelay         time.Duration
	HistoryRuns       int
	ResultTTL         time.Duration
}
