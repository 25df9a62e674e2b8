package plugin

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/zhu327/pingsix/internal/catalog"
)

var safeMethods = map[string]bool{"GET": true, "HEAD": true, "OPTIONS": true, "TRACE": true}

// csrf requires unsafe-method requests to carry a cookie and a header
// whose tokens match and verify against an HMAC-SHA256 signature, per
// spec.md §4.5. Issues a fresh token cookie on each response.
type csrf struct {
	secret     []byte
	cookieName string
	headerName string
	ttl        time.Duration
}

func newCSRF(cfg catalog.PluginConfig) (Plugin, error) {
	secret, ok := cfg["secret"].(string)
	if !ok || secret == "" {
		return nil, fmt.Errorf("csrf: secret required")
	}
	c := &csrf{
		secret:     []byte(secret),
		cookieName: "csrf_token",
		headerName: "X-CSRF-Token",
		ttl:        time.Hour,
	}
	if v, ok := cfg["cookie_name"].(string); ok && v != "" {
		c.cookieName = v
	}
	if v, ok := cfg["header_name"].(string); ok && v != "" {
		c.headerName = v
	}
	if v, ok := cfg["ttl_seconds"]; ok {
		c.ttl = toDurationSeconds(toFloat(v))
	}
	return c, nil
}

func (c *csrf) Name() string { return "csrf" }

// token is base64(expiresUnix || hmac(expiresUnix)).
func (c *csrf) newToken() string {
	expires := time.Now().Add(c.ttl).Unix()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(expires))
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(buf[:])
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(append(buf[:], sig...))
}

func (c *csrf) verify(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < 8 {
		return false
	}
	expires := int64(binary.BigEndian.Uint64(raw[:8]))
	if time.Now().Unix() > expires {
		return false
	}
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(raw[:8])
	want := mac.Sum(nil)
	return subtle.ConstantTimeCompare(raw[8:], want) == 1
}

func (c *csrf) AccessFilter(s *Session, ctx *Ctx) Result {
	if safeMethods[strings.ToUpper(s.Method)] {
		return ok()
	}
	cookieTok := cookieValue(s.Headers.Get("Cookie"), c.cookieName)
	headerTok := s.Headers.Get(c.headerName)
	if cookieTok == "" || headerTok == "" || cookieTok != headerTok || !c.verify(cookieTok) {
		return stop(&StopResponse{Status: 403, Body: []byte("CSRF token invalid")})
	}
	return ok()
}

func (c *csrf) UpstreamResponseFilter(s *Session, ctx *Ctx) Result {
	token := c.newToken()
	cookie := fmt.Sprintf("%s=%s; Path=/; SameSite=Strict", c.cookieName, token)
	s.ResponseHeaders.Add("Set-Cookie", cookie)
	return ok()
}
