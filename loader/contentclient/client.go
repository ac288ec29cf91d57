package contentclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

const (
	resultSourceMapMode  = "withKeyArraySelector"
	maxErrorBodyBytes    = 64 << 10
	logMsgRequestDone    = "content api request completed"
	logMsgRequestFailed  = "content api request failed"
	logAttrError         = "error"
	logAttrEndpoint      = "endpoint"
	logAttrStatus        = "status"
	logAttrDurationMS    = "duration_ms"
	logAttrServerMS      = "server_ms"
	endpointQuery        = "query"
	endpointListen       = "listen"
	requestTagQuery      = "query"
	requestTagListen     = "listen"
	headerAuthorization  = "Authorization"
	headerAccept         = "Accept"
	contentTypeJSON      = "application/json"
	contentTypeEventFeed = "text/event-stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to the content query API of one project and dataset.
// It implements loader.Fetcher and loader.MutationSource.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     loader.Logger
}

// Option defines a functional option for configuring Client.
type Option func(*Client) error

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		if httpClient == nil {
			return errors.New("nil http client supplied")
		}

		c.httpClient = httpClient

		return nil
	}
}

// WithLogger sets the logger for the Client.
// Debug level: completed requests with timing. Warn level: failed requests.
func WithLogger(logger loader.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// New validates config and creates a Client.
func New(config Config, options ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Config returns the validated configuration.
func (c *Client) Config() Config {
	return c.config
}

// ResponseError is returned when the content API answers with a non-success status.
// It matches loader.ErrFetchingResultFailed via errors.Is.
type ResponseError struct {
	StatusCode  int
	Type        string
	Description string
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("content api responded with status %d", e.StatusCode)

	if e.Type != "" {
		msg += ": " + e.Type
	}

	if e.Description != "" {
		msg += ": " + e.Description
	}

	return msg
}

// Is makes errors.Is(err, loader.ErrFetchingResultFailed) work.
func (e *ResponseError) Is(target error) bool {
	return target == loader.ErrFetchingResultFailed
}

type queryResponse struct {
	Result          jsoniter.RawMessage `json:"result"`
	ResultSourceMap jsoniter.RawMessage `json:"resultSourceMap"`
	MS              float64             `json:"ms"`
}

type errorResponse struct {
	Error   jsoniter.RawMessage `json:"error"`
	Message string              `json:"message"`
}

type errorDetails struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Fetch executes a GROQ query. A result that is JSON null is returned as the raw "null" literal.
func (c *Client) Fetch(ctx context.Context, request loader.FetchRequest) (loader.Envelope, error) {
	if request.Query == "" {
		return loader.Envelope{}, loader.ErrEmptyQuery
	}

	values, err := c.queryValues(request.Query, request.Params, requestTagQuery)
	if err != nil {
		return loader.Envelope{}, err
	}

	if request.Perspective != "" {
		values.Set("perspective", request.Perspective)
	}

	if request.ResultSourceMap {
		values.Set("resultSourceMap", resultSourceMapMode)
	}

	cdn := c.config.UseCDN && c.config.Token == "" && request.Perspective != loader.PerspectivePreviewDrafts
	endpoint := c.endpoint(cdn, "query") + "?" + values.Encode()

	start := time.Now()

	resp, err := c.do(ctx, endpoint, contentTypeJSON)
	if err != nil {
		c.logFailure(endpointQuery, err)
		return loader.Envelope{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	var body queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		err = errors.Join(loader.ErrDecodingResultFailed, err)
		c.logFailure(endpointQuery, err)

		return loader.Envelope{}, err
	}

	if len(body.Result) == 0 {
		body.Result = jsoniter.RawMessage("null")
	}

	if c.logger != nil {
		c.logger.Debug(logMsgRequestDone,
			logAttrEndpoint, endpointQuery,
			logAttrStatus, resp.StatusCode,
			logAttrDurationMS, time.Since(start).Milliseconds(),
			logAttrServerMS, body.MS,
		)
	}

	envelope := loader.Envelope{Result: body.Result}
	if len(body.ResultSourceMap) > 0 && string(body.ResultSourceMap) != "null" {
		envelope.SourceMap = body.ResultSourceMap
	}

	return envelope, nil
}

func (c *Client) endpoint(cdn bool, kind string) string {
	return c.config.baseURL(cdn) + "/v" + c.config.APIVersion + "/data/" + kind + "/" + url.PathEscape(c.config.Dataset)
}

// queryValues encodes the query and each param as "$name=<json>", params sorted by name.
func (c *Client) queryValues(query string, params loader.QueryParams, tag string) (url.Values, error) {
	values := url.Values{}
	values.Set("query", query)

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		encoded, err := loader.Encode(params[name])
		if err != nil {
			return nil, err
		}

		values.Set("$"+name, string(encoded))
	}

	if c.config.RequestTagPrefix != "" {
		values.Set("tag", c.config.RequestTagPrefix+"."+tag)
	}

	return values, nil
}

func (c *Client) do(ctx context.Context, endpoint, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Join(loader.ErrFetchingResultFailed, err)
	}

	req.Header.Set(headerAccept, accept)
	if c.config.Token != "" {
		req.Header.Set(headerAuthorization, "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, errors.Join(loader.ErrFetchingResultFailed, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	defer resp.Body.Close() //nolint:errcheck

	return nil, parseResponseError(resp)
}

func parseResponseError(resp *http.Response) *ResponseError {
	respErr := &ResponseError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		respErr.Description = http.StatusText(resp.StatusCode)
		return respErr
	}

	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		respErr.Description = strings.TrimSpace(string(raw))
		return respErr
	}

	var details errorDetails
	var message string

	switch {
	case json.Unmarshal(body.Error, &details) == nil && (details.Type != "" || details.Description != ""):
		respErr.Type = details.Type
		respErr.Description = details.Description
	case json.Unmarshal(body.Error, &message) == nil:
		respErr.Type = message
		respErr.Description = body.Message
	default:
		respErr.Description = body.Message
	}

	return respErr
}

func (c *Client) logFailure(endpoint string, err error) {
	if c.logger != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn(logMsgRequestFailed, logAttrError, err.Error(), logAttrEndpoint, endpoint)
	}
}

var (
	_ loader.Fetcher        = (*Client)(nil)
	_ loader.MutationSource = (*Client)(nil)
)
