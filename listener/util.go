package listener

import (
	"net"
	"net/url"
)

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func parseURI(s string) (scheme, hostport string, err error) {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return "", "", err
	}
	return u.Scheme, u.Host, nil
}
