package models

import "log/slog"

// ProxyAssignment is the proxy a browser session egresses through.
//
// The trailing two characters of Username select the egress region, e.g.
// "proxyuser_IL" routes through Israel.
type ProxyAssignment struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// WithRegion returns a copy of p whose username ends with the given region
// code instead of the current one. An empty region keeps the base username.
func (p ProxyAssignment) WithRegion(region string) ProxyAssignment {
	if region == "" {
		return p
	}
	out := p
	if len(p.Username) >= 2 {
		out.Username = p.Username[:len(p.Username)-2] + region
	} else {
		out.Username = region
	}
	return out
}

// LogValue keeps the password out of structured logs.
func (p ProxyAssignment) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server", p.Server),
		slog.String("username", p.Username),
	)
}
