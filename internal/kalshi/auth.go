package kalshi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Auth produces the request headers the exchange expects. Signed requests
// cover timestamp, method, and path so a captured signature cannot be
// replayed against another endpoint.
type Auth interface {
	Headers(method, path string) (http.Header, error)
}

// NoAuth leaves requests unsigned, for public market-data endpoints and
// dry-run wiring.
type NoAuth struct{}

func (NoAuth) Headers(string, string) (http.Header, error) { return nil, nil }

// KeyAuth signs requests with an API key id and base64 secret.
type KeyAuth struct {
	KeyID  string
	Secret string

	// now is overridable for tests.
	now func() time.Time
}

func NewKeyAuth(keyID, secret string) (*KeyAuth, error) {
	if keyID == "" || secret == "" {
		return nil, fmt.Errorf("api key id and secret are required")
	}
	if _, err := decodeSecret(secret); err != nil {
		return nil, err
	}
	return &KeyAuth{KeyID: keyID, Secret: secret, now: time.Now}, nil
}

func (a *KeyAuth) Headers(method, path string) (http.Header, error) {
	ts := a.now().UnixMilli()
	sig, err := signRequest(a.Secret, ts, method, path)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("KALSHI-ACCESS-KEY", a.KeyID)
	h.Set("KALSHI-ACCESS-TIMESTAMP", strconv.FormatInt(ts, 10))
	h.Set("KALSHI-ACCESS-SIGNATURE", sig)
	return h, nil
}

// signRequest computes HMAC-SHA256 over timestamp + method + path and
// returns it base64-encoded.
func signRequest(secret string, timestampMillis int64, method, path string) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.Grow(24 + len(method) + len(path))
	sb.WriteString(strconv.FormatInt(timestampMillis, 10))
	sb.WriteString(method)
	sb.WriteString(path)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// decodeSecret accepts standard or url-safe base64 with or without padding.
func decodeSecret(secret string) ([]byte, error) {
	s := strings.TrimSpace(secret)
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 api secret: %w", err)
	}
	return key, nil
}
