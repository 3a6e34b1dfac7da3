// CLAUDE:SUMMARY Content storage contract and the local HMAC presigner that protects blob-serving URLs.
// Package cloud abstracts where rendered packet content lives. The runtime
// serves blobs itself, so the default implementation signs URLs against the
// local content endpoint the way an object store would.
package cloud

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Presigner issues time-limited URLs for canonical content keys and
// verifies them when the content endpoint is hit.
type Presigner interface {
	// Presign returns an absolute URL for the key, valid for ttl.
	Presign(key string, ttl time.Duration) (string, error)
	// Verify checks the signature and expiry of a presigned request URL.
	Verify(u *url.URL) error
}

// LocalSigner signs content paths with an HMAC-SHA256 query signature.
type LocalSigner struct {
	baseURL string // e.g. http://127.0.0.1:9050
	secret  []byte
	now     func() time.Time
}

// NewLocalSigner creates a signer for the given base URL and secret.
func NewLocalSigner(baseURL string, secret []byte) *LocalSigner {
	return &LocalSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		now:     time.Now,
	}
}

// Presign returns baseURL/content/<key>?expires=<unix>&sig=<hmac>.
func (s *LocalSigner) Presign(key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("cloud: empty key")
	}
	key = strings.TrimPrefix(key, "/")
	expires := s.now().Add(ttl).Unix()
	sig := s.sign(key, expires)
	return fmt.Sprintf("%s/content/%s?expires=%d&sig=%s", s.baseURL, key, expires, sig), nil
}

// Verify checks a request against the signer's secret. The path must be
// /content/<key>.
func (s *LocalSigner) Verify(u *url.URL) error {
	key := strings.TrimPrefix(u.Path, "/content/")
	if key == "" || key == u.Path {
		return fmt.Errorf("cloud: not a content path: %s", u.Path)
	}
	q := u.Query()
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		return fmt.Errorf("cloud: bad expiry: %w", err)
	}
	if s.now().Unix() > expires {
		return fmt.Errorf("cloud: signature expired")
	}
	want := s.sign(key, expires)
	got := q.Get("sig")
	if !hmac.Equal([]byte(want), []byte(got)) {
		return fmt.Errorf("cloud: signature mismatch")
	}
	return nil
}

func (s *LocalSigner) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
