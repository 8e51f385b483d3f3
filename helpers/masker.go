package helpers

import (
	"net/url"
	"strings"
)

// MaskDatabaseURL redacts the password component of a database URL so it can
// be logged. Values that do not parse as URLs (for example bare SQLite paths)
// are returned unchanged.
func MaskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}

// DatabaseScheme returns the lower-cased scheme of a database URL, or an empty
// string when the URL has none.
func DatabaseScheme(raw string) string {
	idx := strings.Index(raw, "://")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(raw[:idx])
}
