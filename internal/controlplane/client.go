// Package controlplane is the HTTP client for the service that owns the VMs.
// It speaks JSON over HTTP and knows nothing about polling or rendering.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/rileyhilliard/vmctl/internal/logger"
)

const (
	applicationJSON = "application/json"
	requestIDHeader = "X-Request-ID"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 4 << 20
)

// Options configures a Client.
type Options struct {
	// Timeout bounds each HTTP attempt. Zero means 10s.
	Timeout time.Duration

	// Retries is the number of extra attempts for GETs that fail at the
	// connection level. POSTs are never retried.
	Retries int

	Logger logger.Logger

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client talks to the control plane.
type Client struct {
	baseURL string
	reads   *retryablehttp.Client
	writes  *retryablehttp.Client
}

// NewClient creates a client for the control plane at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		reads:   newHTTPClient(opts, opts.Retries),
		writes:  newHTTPClient(opts, 0),
	}
}

// BaseURL returns the control plane address the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func newHTTPClient(opts Options, retries int) *retryablehttp.Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = retries
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = opts.Timeout
	if opts.Transport != nil {
		hc.HTTPClient.Transport = opts.Transport
	}
	hc.Logger = logger.Leveled{L: opts.Logger}
	hc.CheckRetry = retryConnectionErrors
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return hc
}

// retryConnectionErrors retries only when no response came back at all.
// HTTP error statuses carry a JSON body the caller needs to see.
func retryConnectionErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// ListVMs fetches the roster.
func (c *Client) ListVMs(ctx context.Context) ([]VMEntry, error) {
	resp, err := c.do(ctx, c.reads, http.MethodGet, PathListVMs, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := decode[ListResponse](resp)
	if err != nil {
		return nil, err
	}
	if data.Status != StatusSuccess {
		return nil, remoteError("List VMs failed", data.Status, data.Message, resp.StatusCode)
	}
	return data.VMs, nil
}

// VMStats fetches one raw stats sample for the named VM.
func (c *Client) VMStats(ctx context.Context, name string) (VMStats, error) {
	resp, err := c.do(ctx, c.reads, http.MethodGet, PathVMStats+url.PathEscape(name), nil)
	if err != nil {
		return VMStats{}, err
	}
	defer resp.Body.Close()

	data, err := decode[StatsResponse](resp)
	if err != nil {
		return VMStats{}, err
	}
	if data.Status != StatusSuccess {
		return VMStats{}, remoteError(fmt.Sprintf("Stats for %s unavailable", name), data.Status, data.Message, resp.StatusCode)
	}
	if data.Stats == nil {
		return VMStats{}, errors.New(errors.ErrTransport,
			fmt.Sprintf("Stats response for %s has no stats object", name),
			"Check the control plane version")
	}
	return *data.Stats, nil
}

// Send POSTs a lifecycle payload and decodes the response regardless of the
// HTTP status, since the control plane reports failures in the body.
// The caller interprets Status.
func (c *Client) Send(ctx context.Context, path string, payload any) (*ActionResponse, error) {
	resp, err := c.do(ctx, c.writes, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := decode[ActionResponse](resp)
	if err != nil {
		return nil, err
	}
	data.HTTPStatus = resp.StatusCode
	return &data, nil
}

func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, method, path string, body any) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrTransport,
				"Couldn't encode request body", "")
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Couldn't build request for %s", path),
			"Check control_plane.url in your config")
	}
	req.Header.Set("Content-Type", applicationJSON)
	req.Header.Set("Accept", applicationJSON)
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("%s %s failed", method, path),
			fmt.Sprintf("Is the control plane reachable at %s?", c.baseURL))
	}
	return resp, nil
}

// decode reads a JSON body into T. A body that isn't JSON is a transport
// error and mentions the HTTP status so proxies' HTML error pages are easy
// to spot.
func decode[T any](resp *http.Response) (T, error) {
	var out T
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return out, errors.WrapWithCode(err, errors.ErrTransport,
			"Couldn't read control plane response", "")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Control plane sent an unreadable response (HTTP %d)", resp.StatusCode),
			"Check that control_plane.url points at the VM control plane")
	}
	return out, nil
}

func remoteError(what, status, message string, httpStatus int) error {
	if message == "" {
		message = fmt.Sprintf("status %q (HTTP %d)", status, httpStatus)
	}
	return errors.New(errors.ErrRemote, what+": "+message, "")
}
