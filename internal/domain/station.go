package domain

import (
	"net/url"
	"strings"
	"time"
)

type Station struct {
	ID        string
	Name      string
	URL       string
	CreatedAt time.Time
}

// ValidStreamURL accepte uniquement une URL réseau absolue (http/https avec hôte).
func ValidStreamURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
