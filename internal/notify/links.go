// Package notify delivers account notifications requested by the service.
package notify

import (
	"net/url"

	"accountsvc/internal/domain"
)

// Links builds user-facing URLs. Tokens ride in the fragment, which browsers
// never send to the server, so they stay out of access logs.
type Links struct {
	Base *url.URL
}

func (l Links) For(n domain.Notification) string {
	path := "/account/verify"
	switch n.Kind {
	case domain.NotifyPasswordReset:
		path = "/account/reset-password"
	case domain.NotifyMagicLink:
		path = "/account/magic-link"
	}

	u := url.URL{Path: path}
	if l.Base != nil {
		u = *l.Base
		u.Path = joinPath(l.Base.Path, path)
		u.RawQuery = ""
	}
	u.Fragment = "token=" + url.QueryEscape(n.Token)
	return u.String()
}

func joinPath(base, p string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + p
}
