package panda

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Authentication parameter names added to every API call.
const (
	ParamAccessKey = "access_key"
	ParamCloudID   = "cloud_id"
	ParamTimestamp = "timestamp"
	ParamSignature = "signature"
)

// Signer adds authentication parameters to API calls.
type Signer struct {
	accessKey string
	secretKey string
	cloudID   string
	host      string
	now       func() time.Time
}

// NewSigner creates a signer for the given credentials. host is the API host
// name as it appears in the string to sign, without port.
func NewSigner(accessKey, secretKey, cloudID, host string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
		cloudID:   cloudID,
		host:      strings.ToLower(host),
		now:       time.Now,
	}
}

// Sign returns a copy of params carrying access_key, cloud_id, timestamp and
// the signature computed over all of them. params is not modified.
func (s *Signer) Sign(method, path string, params url.Values) url.Values {
	signed := make(url.Values, len(params)+4)
	for k, v := range params {
		signed[k] = append([]string(nil), v...)
	}
	signed.Set(ParamAccessKey, s.accessKey)
	signed.Set(ParamCloudID, s.cloudID)
	signed.Set(ParamTimestamp, s.now().UTC().Format(time.RFC3339))
	signed.Set(ParamSignature, s.Signature(method, path, signed))
	return signed
}

// Signature computes base64(HMAC-SHA256(secret, METHOD\nhost\npath\nquery)).
// Any existing signature parameter is excluded from the canonical query.
func (s *Signer) Signature(method, path string, params url.Values) string {
	toSign := strings.Join([]string{
		strings.ToUpper(method),
		s.host,
		path,
		CanonicalQuery(params),
	}, "\n")

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(toSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// CanonicalQuery renders params sorted by key with RFC 3986 escaping
// (spaces as %20). The signature parameter is skipped.
func CanonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == ParamSignature {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(escape(k))
			b.WriteByte('=')
			b.WriteString(escape(v))
		}
	}
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
