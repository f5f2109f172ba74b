package sharing

import (
	"net/url"
	"strings"
)

// Directory decides where a principal's home is hosted.
type Directory interface {
	// IsExternal reports whether the principal is hosted on another pod.
	IsExternal(uid string) bool
}

// OriginDirectory resolves locality from mail-style UIDs (user@pod-host):
// a UID whose domain differs from this pod's own host is external. UIDs
// without a domain are treated as local.
type OriginDirectory struct {
	host string
}

// NewOriginDirectory creates a directory for the given pod origin, which may
// be a URL ("https://pod-a.example.com") or a bare host.
func NewOriginDirectory(origin string) *OriginDirectory {
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return &OriginDirectory{host: strings.ToLower(host)}
}

// IsExternal implements Directory.
func (d *OriginDirectory) IsExternal(uid string) bool {
	_, domain, ok := strings.Cut(uid, "@")
	if !ok || domain == "" {
		return false
	}
	return !strings.EqualFold(domain, d.host)
}

// Host returns the pod's own host.
func (d *OriginDirectory) Host() string { return d.host }

// UIDDomain returns the domain part of a mail-style UID, or "".
func UIDDomain(uid string) string {
	_, domain, ok := strings.Cut(uid, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(domain)
}
