// Package panda is a client for the PandaStream-compatible video encoding API.
//
// Every API call is signed, rate limited and sent through a resilient
// httpclient.Client. The Client is safe for concurrent use.
package panda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/pandactl/internal/apperr"
	"github.com/jmylchreest/pandactl/pkg/httpclient"
)

// Default connection values.
const (
	DefaultHost    = "api.pandastream.com"
	DefaultPort    = 443
	DefaultVersion = "v2"

	// HeaderRequestID carries a per-call identifier for log correlation.
	HeaderRequestID = "X-Request-Id"

	contentTypeForm   = "application/x-www-form-urlencoded"
	contentTypeBinary = "application/octet-stream"

	maxErrorBody = 4 << 10
)

// Endpoint paths, relative to the versioned API root.
const (
	PathUploadSession = "/videos/upload.json"
	PathProfiles      = "/profiles.json"
)

// Config holds the connection settings for the remote service.
type Config struct {
	Host      string
	Port      int
	Version   string
	AccessKey string
	SecretKey string
	CloudID   string

	// RateLimit caps API calls per second. Zero disables limiting.
	RateLimit float64
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = e.Body
	}
	if detail == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, detail)
}

// Encoding is one per-profile derivative of an uploaded video.
type Encoding struct {
	ID          string              `json:"id"`
	VideoID     string              `json:"video_id"`
	ProfileID   string              `json:"profile_id"`
	ProfileName string              `json:"profile_name"`
	Status      string              `json:"status"`
	Progress    decimal.NullDecimal `json:"encoding_progress"`
}

// Video is the metadata of an uploaded video resource.
type Video struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	OriginalFilename string `json:"original_filename"`
	SourceURL        string `json:"source_url"`
	ErrorMessage     string `json:"error_message"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// UploadRequest describes the file an upload session is requested for.
type UploadRequest struct {
	FileName       string
	FileSize       int64
	UseAllProfiles bool
	PathFormat     string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for request logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the transport used for signed API calls.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUploadClient sets the transport used for file uploads. It should have
// no overall timeout, since a single upload may take a long time.
func WithUploadClient(hc *httpclient.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.upload = hc
		}
	}
}

// WithClock overrides the clock used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.signer.now = now
		}
	}
}

// Client talks to the remote encoding service.
type Client struct {
	baseURL *url.URL
	signer  *Signer
	limiter *rate.Limiter
	http    *httpclient.Client
	upload  *httpclient.Client
	logger  *slog.Logger
}

// New creates a client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must not be negative")
	}

	base, err := BaseURL(cfg.Host, cfg.Port, cfg.Version)
	if err != nil {
		return nil, err
	}

	uploadCfg := httpclient.DefaultConfig()
	uploadCfg.Timeout = 0

	c := &Client{
		baseURL: base,
		signer:  NewSigner(cfg.AccessKey, cfg.SecretKey, cfg.CloudID, cfg.Host),
		http:    httpclient.NewWithDefaults(),
		upload:  httpclient.New(uploadCfg),
		logger:  slog.Default(),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL builds the versioned API root. Port 443 selects https, anything
// else http; default ports are left out of the host.
func BaseURL(host string, port int, version string) (*url.URL, error) {
	if host == "" {
		return nil, fmt.Errorf("api host is required")
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("api port %d out of range", port)
	}

	scheme := "http"
	if port == 443 {
		scheme = "https"
	}
	hostPort := host
	if port != 443 && port != 80 {
		hostPort = net.JoinHostPort(host, strconv.Itoa(port))
	}

	return &url.URL{
		Scheme: scheme,
		Host:   hostPort,
		Path:   "/" + strings.Trim(version, "/"),
	}, nil
}

// VideoPath returns the resource path of a video.
func VideoPath(id string) string {
	return "/videos/" + url.PathEscape(id) + ".json"
}

// EncodingsPath derives the encodings listing path from a video resource path.
func EncodingsPath(resourcePath string) string {
	return strings.Replace(resourcePath, ".json", "/encodings.json", 1)
}

// ProfilePath returns the resource path of a profile.
func ProfilePath(id string) string {
	return "/profiles/" + url.PathEscape(id) + ".json"
}

// Get performs a signed GET and returns the response body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.call(ctx, http.MethodGet, path, params)
}

// Post performs a signed form POST and returns the response body.
func (c *Client) Post(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.call(ctx, http.MethodPost, path, params)
}

// Put performs a signed form PUT and returns the response body.
func (c *Client) Put(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.call(ctx, http.MethodPut, path, params)
}

// CreateUploadSession asks for an upload destination for one file and
// returns its location.
func (c *Client) CreateUploadSession(ctx context.Context, req UploadRequest) (string, error) {
	params := url.Values{}
	params.Set("file_name", req.FileName)
	params.Set("file_size", strconv.FormatInt(req.FileSize, 10))
	params.Set("use_all_profiles", strconv.FormatBool(req.UseAllProfiles))
	if req.PathFormat != "" {
		params.Set("path_format", req.PathFormat)
	}

	body, err := c.Post(ctx, PathUploadSession, params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &apperr.MalformedResponseError{Resource: PathUploadSession, Reason: err.Error()}
	}
	if resp.Location == "" {
		return "", &apperr.MalformedResponseError{Resource: PathUploadSession, Field: "location"}
	}
	return resp.Location, nil
}

// UploadFile streams a file to an upload location and returns the identifier
// of the created video. If the upload client retries, open is called again
// for every replay so it starts from the first byte.
func (c *Client) UploadFile(ctx context.Context, location string, open func() (io.ReadCloser, error), size int64) (string, error) {
	body, err := open()
	if err != nil {
		return "", fmt.Errorf("opening upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, location, body)
	if err != nil {
		body.Close()
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	req.ContentLength = size
	req.GetBody = open
	req.Header.Set("Content-Type", contentTypeBinary)
	requestID := uuid.NewString()
	req.Header.Set(HeaderRequestID, requestID)

	start := time.Now()
	resp, err := c.upload.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	c.logger.Debug("upload completed",
		slog.String("request_id", requestID),
		slog.Int("status", resp.StatusCode),
		slog.Int64("bytes", size),
		slog.Duration("duration", time.Since(start)),
	)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", newAPIError(http.MethodPost, location, resp.StatusCode, data)
	}

	var created map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&created); err != nil {
		return "", &apperr.MalformedResponseError{Resource: location, Reason: err.Error()}
	}
	id := StringValue(created["id"])
	if id == "" {
		return "", &apperr.MalformedResponseError{Resource: location, Field: "id"}
	}
	return id, nil
}

// GetVideo fetches the metadata of one video.
func (c *Client) GetVideo(ctx context.Context, id string) (*Video, error) {
	path := VideoPath(id)
	body, err := c.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var v Video
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &apperr.MalformedResponseError{Resource: path, Reason: err.Error()}
	}
	return &v, nil
}

// ListEncodings fetches the encodings at path, as built by EncodingsPath.
func (c *Client) ListEncodings(ctx context.Context, path string) ([]Encoding, error) {
	body, err := c.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var encodings []Encoding
	if err := json.Unmarshal(body, &encodings); err != nil {
		return nil, &apperr.MalformedResponseError{Resource: path, Reason: err.Error()}
	}
	return encodings, nil
}

// ListProfiles fetches every profile defined on the remote cloud. Numbers are
// kept as json.Number so their text survives a round trip unchanged.
func (c *Client) ListProfiles(ctx context.Context) ([]map[string]any, error) {
	body, err := c.Get(ctx, PathProfiles, nil)
	if err != nil {
		return nil, err
	}

	var profiles []map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&profiles); err != nil {
		return nil, &apperr.MalformedResponseError{Resource: PathProfiles, Reason: err.Error()}
	}
	return profiles, nil
}

// UpdateProfile replaces the attributes of the profile with the given id.
func (c *Client) UpdateProfile(ctx context.Context, id string, attrs map[string]any) error {
	_, err := c.Put(ctx, ProfilePath(id), FormValues(attrs))
	return err
}

// CreateProfile defines a new profile.
func (c *Client) CreateProfile(ctx context.Context, attrs map[string]any) error {
	_, err := c.Post(ctx, PathProfiles, FormValues(attrs))
	return err
}

// FormValues encodes attributes as form fields. Nil values are omitted.
func FormValues(attrs map[string]any) url.Values {
	values := make(url.Values, len(attrs))
	for k, v := range attrs {
		if v == nil {
			continue
		}
		values.Set(k, StringValue(v))
	}
	return values
}

// StringValue renders a decoded JSON or INI scalar as text.
func StringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func (c *Client) call(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	signed := c.signer.Sign(method, path, params)
	u := *c.baseURL
	u.Path = c.baseURL.Path + path

	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		u.RawQuery = signed.Encode()
	} else {
		body = strings.NewReader(signed.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentTypeForm)
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set(HeaderRequestID, requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	c.logger.Debug("api call",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", requestID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(method, path, resp.StatusCode, data)
	}
	return data, nil
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	e := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       strings.TrimSpace(string(body)),
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Message != "":
			e.Message = payload.Message
		case payload.Error != "":
			e.Message = payload.Error
		}
	}
	return e
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
