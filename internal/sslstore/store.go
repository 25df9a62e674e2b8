// Package sslstore resolves TLS certificates by SNI, matching spec.md
// §4.5: exact hostname match first, then the most specific wildcard.
package sslstore

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/zhu327/pingsix/internal/catalog"
)

// entry is one loaded certificate keyed by the literal SNI patterns it serves.
type entry struct {
	cert *tls.Certificate
	snis []string
}

// index is the immutable resolved state behind the atomic pointer:
// exact hostnames map directly; wildcards are kept sorted longest-
// suffix-first so the first match found is the most specific one.
type index struct {
	exact     map[string]*tls.Certificate
	wildcards []wildcardEntry
}

type wildcardEntry struct {
	suffix string // e.g. ".example.com" for "*.example.com"
	cert   *tls.Certificate
}

// Store holds the active SNI index behind an atomic pointer, hot-
// swapped the same way catalog.Registry swaps snapshots.
type Store struct {
	current atomic.Pointer[index]
}

// New builds an empty Store.
func New() *Store {
	s := &Store{}
	s.current.Store(&index{exact: map[string]*tls.Certificate{}})
	return s
}

// Load replaces the active index from a full set of SSLCert resources.
// A cert that fails to parse is skipped with an error collected into
// the returned error, but does not block the other certs from loading.
func (s *Store) Load(certs []*catalog.SSLCert) error {
	next := &index{exact: map[string]*tls.Certificate{}}
	var errs []string

	for _, c := range certs {
		tlsCert, err := tls.X509KeyPair([]byte(c.Cert), []byte(c.Key))
		if err != nil {
			errs = append(errs, fmt.Sprintf("ssl %q: %v", c.ID, err))
			continue
		}
		for _, sni := range c.SNIs {
			sni = strings.ToLower(sni)
			if strings.HasPrefix(sni, "*.") {
				next.wildcards = append(next.wildcards, wildcardEntry{
					suffix: sni[1:], // ".example.com"
					cert:   &tlsCert,
				})
			} else {
				next.exact[sni] = &tlsCert
			}
		}
	}

	// Longest suffix first so a more specific wildcard (e.g.
	// "*.eu.example.com") is tried before a broader one
	// ("*.example.com") matching the same host.
	for i := 1; i < len(next.wildcards); i++ {
		for j := i; j > 0 && len(next.wildcards[j].suffix) > len(next.wildcards[j-1].suffix); j-- {
			next.wildcards[j], next.wildcards[j-1] = next.wildcards[j-1], next.wildcards[j]
		}
	}

	s.current.Store(next)
	if len(errs) > 0 {
		return fmt.Errorf("sslstore: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetCertificate resolves a tls.Config's GetCertificate hook: exact SNI
// match wins, then the most specific matching wildcard, else nil (the
// caller's default certificate, if any, applies).
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	idx := s.current.Load()
	host := strings.ToLower(hello.ServerName)
	if host == "" {
		return nil, nil
	}
	if cert, ok := idx.exact[host]; ok {
		return cert, nil
	}
	for _, w := range idx.wildcards {
		if strings.HasSuffix(host, w.suffix) {
			return w.cert, nil
		}
	}
	return nil, nil
}
