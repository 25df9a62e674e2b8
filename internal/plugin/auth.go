package plugin

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhu327/pingsix/internal/catalog"
)

// keyAuth checks a configured header (default "apikey") against a set
// of accepted keys, per spec.md §4.5's "auth (key)" variant: 401 on
// missing/invalid, optionally strips the credential header on success.
type keyAuth struct {
	header string
	keys   map[string]string // key value -> consumer label
	hide   bool
}

func newKeyAuth(cfg catalog.PluginConfig) (Plugin, error) {
	ka := &keyAuth{header: "apikey", keys: map[string]string{}}
	if v, ok := cfg["header"].(string); ok && v != "" {
		ka.header = v
	}
	if v, ok := cfg["hide_credentials"].(bool); ok {
		ka.hide = v
	}
	rawKeys, _ := cfg["keys"].([]any)
	if len(rawKeys) == 0 {
		return nil, fmt.Errorf("key-auth: at least one key required")
	}
	for _, rk := range rawKeys {
		switch v := rk.(type) {
		case string:
			ka.keys[v] = v
		case map[string]any:
			key := fmt.Sprint(v["key"])
			consumer := fmt.Sprint(v["consumer"])
			ka.keys[key] = consumer
		}
	}
	return ka, nil
}

func (k *keyAuth) Name() string { return "key-auth" }

func (k *keyAuth) AccessFilter(s *Session, c *Ctx) Result {
	got := s.Headers.Get(k.header)
	consumer, valid := k.keys[got]
	if got == "" || !valid {
		return stop(&StopResponse{Status: 401, Body: []byte("Unauthorized")})
	}
	c.Set("consumer", consumer)
	if k.hide {
		s.UpstreamHeaders.Del(k.header)
	}
	return ok()
}

// basicAuth implements RFC 7617 Basic auth against a fixed
// username/password table.
type basicAuth struct {
	creds map[string]string // username -> password
	hide  bool
}

func newBasicAuth(cfg catalog.PluginConfig) (Plugin, error) {
	ba := &basicAuth{creds: map[string]string{}}
	if v, ok := cfg["hide_credentials"].(bool); ok {
		ba.hide = v
	}
	rawUsers, _ := cfg["users"].([]any)
	if len(rawUsers) == 0 {
		return nil, fmt.Errorf("basic-auth: at least one user required")
	}
	for _, ru := range rawUsers {
		m, ok := ru.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("basic-auth: malformed user entry")
		}
		ba.creds[fmt.Sprint(m["username"])] = fmt.Sprint(m["password"])
	}
	return ba, nil
}

func (b *basicAuth) Name() string { return "basic-auth" }

func (b *basicAuth) AccessFilter(s *Session, c *Ctx) Result {
	hdr := s.Headers.Get("Authorization")
	user, pass, valid := parseBasicAuth(hdr)
	if !valid {
		return unauthorized("Basic")
	}
	want, ok := b.creds[user]
	if !ok || subtle.ConstantTimeCompare([]byte(pass), []byte(want)) != 1 {
		return unauthorized("Basic")
	}
	c.Set("consumer", user)
	if b.hide {
		s.UpstreamHeaders.Del("Authorization")
	}
	return ok()
}

func parseBasicAuth(hdr string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(hdr) < len(prefix) || !strings.EqualFold(hdr[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(hdr[len(prefix):])
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func unauthorized(scheme string) Result {
	return Result{
		Verdict: Stop,
		Response: &StopResponse{
			Status: 401,
			Headers: headerMap("WWW-Authenticate", scheme),
			Body:    []byte("Unauthorized"),
		},
	}
}

func headerMap(kv ...string) map[string][]string {
	// local helper kept minimal: StopResponse.Headers is http.Header,
	// built via a tiny literal rather than importing net/http here just
	// for Header{}.
	h := map[string][]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		h[kv[i]] = []string{kv[i+1]}
	}
	return h
}

// jwtAuth validates a bearer JWT against a configured secret (HMAC) per
// spec.md's "auth (JWT)" variant, storing the decoded claims in ctx for
// downstream plugins.
type jwtAuth struct {
	secret     []byte
	headerName string
	queryName  string
}

func newJWTAuth(cfg catalog.PluginConfig) (Plugin, error) {
	ja := &jwtAuth{headerName: "Authorization"}
	secret, ok := cfg["secret"].(string)
	if !ok || secret == "" {
		return nil, fmt.Errorf("jwt-auth: secret required")
	}
	ja.secret = []byte(secret)
	if v, ok := cfg["query_param"].(string); ok {
		ja.queryName = v
	}
	return ja, nil
}

func (j *jwtAuth) Name() string { return "jwt-auth" }

func (j *jwtAuth) AccessFilter(s *Session, c *Ctx) Result {
	raw := j.extractToken(s)
	if raw == "" {
		return stop(&StopResponse{Status: 401, Body: []byte("missing token")})
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, isHMAC := t.Method.(*jwt.SigningMethodHMAC); !isHMAC {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return stop(&StopResponse{Status: 401, Body: []byte("invalid token")})
	}

	c.Set("jwt_claims", claims)
	return ok()
}

func (j *jwtAuth) extractToken(s *Session) string {
	if v := s.Headers.Get(j.headerName); v != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(v, prefix) {
			return v[len(prefix):]
		}
		return v
	}
	if j.queryName != "" {
		return queryArg(s.URI, j.queryName)
	}
	return ""
}
