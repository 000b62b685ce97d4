package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// maxErrorBody bounds how much of a non-2xx body is kept as error text.
	maxErrorBody = 64 << 10
	// DefaultMaxResponseBytes bounds a 2xx body. Larger replies are treated
	// as invalid rather than read into memory.
	DefaultMaxResponseBytes = 8 << 20
)

// Client talks to a single generateContent endpoint. It does no retrying and
// sets no timeout of its own: both are the caller's business, through ctx.
type Client struct {
	httpClient       *http.Client
	url              string
	apiKey           string
	maxResponseBytes int64
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

func WithMaxResponseBytes(n int64) ClientOption {
	return func(client *Client) {
		if n > 0 {
			client.maxResponseBytes = n
		}
	}
}

func NewClient(url string, apiKey string, options ...ClientOption) *Client {
	ret := &Client{
		httpClient:       http.DefaultClient,
		url:              url,
		apiKey:           apiKey,
		maxResponseBytes: DefaultMaxResponseBytes,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// GenerateContent POSTs req and decodes the reply. Non-2xx responses come
// back as *APIError, undecodable 2xx bodies wrap ErrInvalidResponse, and
// transport failures are returned wrapped as they came from net/http.
func (c *Client) GenerateContent(ctx context.Context, req *GenerateContentRequest) (*GenerateContentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "api call")
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseErrorResponse(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if int64(len(respBody)) > c.maxResponseBytes {
		log.Debug().Int64("limit", c.maxResponseBytes).Msg("generateContent response too large")
		return nil, errors.Wrapf(ErrInvalidResponse, "response body exceeds %d bytes", c.maxResponseBytes)
	}

	var out GenerateContentResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		log.Debug().Err(err).Int("bytes", len(respBody)).Msg("could not decode generateContent response")
		return nil, errors.Wrap(ErrInvalidResponse, err.Error())
	}
	return &out, nil
}

// parseErrorResponse reads the error body according to its content type. A
// body that cannot be read or decoded leaves Message empty.
func parseErrorResponse(resp *http.Response) *APIError {
	ret := &APIError{StatusCode: resp.StatusCode}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		log.Debug().Err(err).Int("status", resp.StatusCode).Msg("could not read error body")
		return ret
	}

	if isJSONContentType(resp.Header.Get("Content-Type")) {
		var er ErrorResponse
		if err := json.Unmarshal(b, &er); err != nil {
			log.Debug().Err(err).Int("status", resp.StatusCode).Msg("could not decode JSON error body")
			return ret
		}
		if er.Error != nil {
			ret.Code = er.Error.Code
			ret.Status = er.Error.Status
			ret.Message = er.Error.Message
		}
		return ret
	}

	ret.Message = strings.TrimSpace(string(b))
	return ret
}
