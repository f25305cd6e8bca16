package panda

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSigner() *Signer {
	s := NewSigner("ak", "sk", "cloud", "API.Example.com")
	s.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.FixedZone("X", 3600)) }
	return s
}

func TestCanonicalQuery(t *testing.T) {
	tests := []struct {
		name     string
		params   url.Values
		expected string
	}{
		{"empty", url.Values{}, ""},
		{"sorted by key", url.Values{"b": {"2"}, "a": {"1"}}, "a=1&b=2"},
		{"spaces as %20", url.Values{"name": {"my video.mp4"}}, "name=my%20video.mp4"},
		{"reserved characters escaped", url.Values{"path": {"a/b:c"}}, "path=a%2Fb%3Ac"},
		{"signature skipped", url.Values{"a": {"1"}, "signature": {"zzz"}}, "a=1"},
		{"repeated values sorted", url.Values{"k": {"y", "x"}}, "k=x&k=y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanonicalQuery(tt.params))
		})
	}
}

func TestSigner_Sign(t *testing.T) {
	s := fixedSigner()
	params := url.Values{"file_name": {"a.mp4"}}

	signed := s.Sign("post", "/videos/upload.json", params)

	assert.Equal(t, "ak", signed.Get(ParamAccessKey))
	assert.Equal(t, "cloud", signed.Get(ParamCloudID))
	assert.Equal(t, "2026-05-04T02:02:01Z", signed.Get(ParamTimestamp))
	assert.Equal(t, "a.mp4", signed.Get("file_name"))

	toSign := "POST\napi.example.com\n/videos/upload.json\n" +
		"access_key=ak&cloud_id=cloud&file_name=a.mp4&timestamp=2026-05-04T02%3A02%3A01Z"
	mac := hmac.New(sha256.New, []byte("sk"))
	mac.Write([]byte(toSign))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), signed.Get(ParamSignature))

	// Input untouched
	assert.Len(t, params, 1)
}

func TestSigner_SignatureDependsOnRequest(t *testing.T) {
	s := fixedSigner()
	params := s.Sign("GET", "/profiles.json", nil)

	base := s.Signature("GET", "/profiles.json", params)
	require.Equal(t, params.Get(ParamSignature), base)

	assert.NotEqual(t, base, s.Signature("PUT", "/profiles.json", params))
	assert.NotEqual(t, base, s.Signature("GET", "/videos.json", params))

	other := NewSigner("ak", "different", "cloud", "api.example.com")
	other.now = s.now
	assert.NotEqual(t, base, other.Signature("GET", "/profiles.json", params))
}
