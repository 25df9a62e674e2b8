package upstream

// SelectKey carries the session values a hash-based balancer may need to
// derive its key from, per the HashKeySpec configured on the Upstream.
type SelectKey struct {
	RemoteAddr string
	URI        string
	Header     func(name string) string
	Cookie     func(name string) string
}
