// Package api implements the subset of the Thinger.io REST API used for OTA updates:
// device OTA resources and device/product listings.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thinger-io/thinger-ota/pkg/errors"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the default per-request timeout
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps how much of a response body is read
	MaxResponseSize = 50 * 1000 * 1000

	// maxErrorBody is how much of a failed response is quoted in the error
	maxErrorBody = 256
)

// Client talks to a Thinger.io server on behalf of one user
type Client struct {
	// BaseURL is the server root, e.g. "https://backend.thinger.io:443"
	BaseURL string

	// User owns the devices and products addressed by the client
	User string

	// Token is sent as a bearer token on every request
	Token string

	// UserAgent identifies this tool to the server
	UserAgent string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	logger *zap.Logger
}

// NewClient creates a client for the given server, user and access token
func NewClient(baseURL, user, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		User:       user,
		Token:      token,
		UserAgent:  "thinger-ota",
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// SetLogger sets the logger used for request tracing
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
}

// SetInsecure disables server certificate verification, for self-hosted servers with
// self-signed certificates.
func (c *Client) SetInsecure(insecure bool) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}
	c.HTTPClient.Transport = transport
}

// DeviceOTAOptions queries the device's OTA capabilities
func (c *Client) DeviceOTAOptions(ctx context.Context, device string) (*DeviceOTAOptions, error) {
	var opts DeviceOTAOptions
	if err := c.do(ctx, http.MethodGet, c.otaPath(device, "options"), nil, "", &opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

// BeginDeviceOTA announces a transfer with the negotiated options
func (c *Client) BeginDeviceOTA(ctx context.Context, device string, options *OTAOptions) (*OTAResult, error) {
	body, err := json.Marshal(options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode OTA options")
	}
	var result OTAResult
	if err := c.do(ctx, http.MethodPost, c.otaPath(device, "begin"), bytes.NewReader(body), "application/json", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WriteDeviceOTA sends one firmware chunk as a raw binary body
func (c *Client) WriteDeviceOTA(ctx context.Context, device string, chunk []byte) (*OTAResult, error) {
	var result OTAResult
	if err := c.do(ctx, http.MethodPost, c.otaPath(device, "write"), bytes.NewReader(chunk), "application/octet-stream", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EndDeviceOTA asks the device to verify the received image
func (c *Client) EndDeviceOTA(ctx context.Context, device string) (*OTAResult, error) {
	var result OTAResult
	if err := c.do(ctx, http.MethodPost, c.otaPath(device, "end"), nil, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RebootDeviceOTA asks the device to reboot into the new image. The response body is
// not interpreted.
func (c *Client) RebootDeviceOTA(ctx context.Context, device string) error {
	return c.do(ctx, http.MethodPost, c.otaPath(device, "reboot"), nil, "", nil)
}

// ProductDevices lists every device that belongs to product. The server applies its
// own limit; no pagination is attempted.
func (c *Client) ProductDevices(ctx context.Context, product string) ([]Device, error) {
	query := url.Values{}
	query.Set("product", product)
	query.Set("type", "Generic")
	query.Set("count", "0")

	var devices []Device
	if err := c.do(ctx, http.MethodGet, c.userPath("devices")+"?"+query.Encode(), nil, "", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Devices searches the user's devices by name, returning at most 10
func (c *Client) Devices(ctx context.Context, search string) ([]Device, error) {
	query := url.Values{}
	query.Set("name", search)
	query.Set("type", "Generic")
	query.Set("count", "10")

	var devices []Device
	if err := c.do(ctx, http.MethodGet, c.userPath("devices")+"?"+query.Encode(), nil, "", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Products searches the user's products by name, returning at most 10
func (c *Client) Products(ctx context.Context, search string) ([]Product, error) {
	query := url.Values{}
	query.Set("name", search)
	query.Set("count", "10")

	var products []Product
	if err := c.do(ctx, http.MethodGet, c.userPath("products")+"?"+query.Encode(), nil, "", &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) userPath(resource string) string {
	return fmt.Sprintf("/v1/users/%s/%s", url.PathEscape(c.User), resource)
}

func (c *Client) otaPath(device, action string) string {
	return fmt.Sprintf("/v3/users/%s/devices/%s/resources/$ota/%s",
		url.PathEscape(c.User), url.PathEscape(device), action)
}

// do performs a single request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	op := method + " " + path

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return errors.NewTransportError(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Debug("api_request_failed", zap.String("op", op), zap.Error(err))
		return errors.NewTransportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("api_request",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return errors.NewTransportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody] + "..."
		}
		return errors.NewHTTPError(op, resp.StatusCode, text)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &errors.Error{Kind: errors.KindTransport, Op: op, Message: "malformed response", Err: err}
	}
	return nil
}
