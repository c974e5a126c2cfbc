package app

import "net/url"

// SafeServerURL strips credentials from a server URL before it reaches
// logs or terminal output. Some deployments put basic auth in the
// configured URL; the password must not leak through `loom health` or
// the log file. Unparseable input passes through unchanged.
func SafeServerURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
