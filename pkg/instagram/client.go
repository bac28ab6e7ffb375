package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corpix/uarand"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/ratelimit"
	"snsgrab/pkg/retry"
)

// Client fetches post details from Instagram's web JSON endpoint
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	cookies    []*http.Cookie
	baseURL    string
	limiter    ratelimit.Limiter
	retry      *retry.Config
	logger     logger.Logger
}

// NewClient creates a new Instagram client
func NewClient(timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"User-Agent":      uarand.GetRandom(),
			"Accept":          "application/json,text/html;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
			"Pragma":          "no-cache",
			"X-IG-App-ID":     "936619743392459",
		},
		baseURL: BaseURL,
		retry:   retry.ByErrorType(3, log),
		logger:  log.WithField("component", "instagram"),
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetCookies sets the session cookies sent with every request
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.cookies = cookies
}

// SetLimiter throttles detail requests
func (c *Client) SetLimiter(l ratelimit.Limiter) {
	c.limiter = l
}

// SetMaxAttempts sets the per-request attempt budget
func (c *Client) SetMaxAttempts(n int) {
	if n > 0 {
		c.retry.MaxAttempts = n
	}
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "network error")
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// GetJSON performs a GET request and decodes the JSON response
func (c *Client) GetJSON(ctx context.Context, url string, target interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeInvalidInput, err, "failed to create request")
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "failed to read response body")
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}

		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		// a login wall comes back as HTML with status 200
		return retry.Permanent(errs.Wrap(errs.ErrorTypeParsing, err, "failed to parse JSON"))
	}

	return nil
}

// checkResponseStatus maps non-2xx statuses to typed errors
func (c *Client) checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}

	fields := map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.String(),
	}
	err := errs.FromStatus(resp.StatusCode, http.StatusText(resp.StatusCode))
	switch err.Type {
	case errs.ErrorTypeAuth:
		c.logger.WarnWithFields("authentication error", fields)
		err.Message = "authentication required"
	case errs.ErrorTypeNotFound:
		c.logger.WarnWithFields("resource not found", fields)
	case errs.ErrorTypeRateLimit:
		c.logger.WarnWithFields("rate limit exceeded", fields)
	case errs.ErrorTypeServerError:
		c.logger.ErrorWithFields("server error", fields)
	default:
		c.logger.ErrorWithFields("unexpected API error", fields)
		err.Message = fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
	}
	return err
}

// FetchPost fetches the detail JSON of the post at postPath ("/p/<shortcode>/").
// Transient failures are retried with a delay chosen by error type.
func (c *Client) FetchPost(ctx context.Context, postPath string) (*Media, error) {
	url := GetPostJSONURL(c.baseURL, postPath)

	c.logger.DebugWithFields("fetching post details", map[string]interface{}{
		"url": url,
	})

	media, err := retry.DoWithResult(ctx, func(ctx context.Context) (*Media, error) {
		var response PostResponse
		if err := c.GetJSON(ctx, url, &response); err != nil {
			return nil, err
		}
		if response.Graphql.ShortcodeMedia == nil {
			return nil, retry.Permanent(errs.New(errs.ErrorTypeParsing, "response has no shortcode_media"))
		}
		return response.Graphql.ShortcodeMedia, nil
	}, c.retry)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeFetch, err, "failed to fetch post "+postPath)
	}

	return media, nil
}
