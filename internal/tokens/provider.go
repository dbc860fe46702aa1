package tokens

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"oauth-bridge/internal/common/errors"
	"oauth-bridge/internal/common/logging"
)

// CallOptions customizes an authenticated provider resource call
type CallOptions struct {
	// Method is the HTTP method; GET when empty
	Method string
	// Body is the request body, if any
	Body []byte
	// Headers are additional request headers; Authorization is always set
	// by the wrapper and cannot be overridden
	Headers map[string]string
	// Query is appended to the endpoint URL
	Query url.Values
}

// CallProvider issues an authenticated request to the provider's resource
// endpoint and returns the response body.
//
// The retry policy is a bounded state machine: on a 401 the wrapper forces
// one refresh through the resolver and retries exactly once with the new
// token; a second 401 fails with auth_required ("max retries"). A transport
// error consumes the same single-retry budget. Any auth_required raised
// during the forced refresh propagates immediately without a further retry.
// Non-401 non-2xx responses fail with a provider error carrying status and
// body, and are never retried.
func (m *Manager) CallProvider(ctx context.Context, userID, endpoint string, opts *CallOptions) ([]byte, error) {
	const maxRetries = 1

	force := false
	for attempt := 0; ; attempt++ {
		token, err := m.ResolveAccessToken(ctx, userID, force)
		if err != nil {
			return nil, err
		}

		status, body, reqErr := m.doResourceRequest(ctx, token, endpoint, opts)

		switch {
		case reqErr != nil:
			if attempt >= maxRetries {
				provErr := errors.ProviderError("provider request failed", 0, "")
				provErr.Cause = reqErr
				return nil, provErr
			}
			m.logger.Warn("Provider request failed, retrying",
				logging.Field{Key: "user_id", Value: userID},
				logging.Field{Key: "endpoint", Value: endpoint},
				logging.Err(reqErr),
			)

		case status == http.StatusUnauthorized:
			if attempt >= maxRetries {
				return nil, errors.AuthRequiredError("max retries")
			}
			m.logger.Debug("Provider returned 401, forcing refresh",
				logging.Field{Key: "user_id", Value: userID},
				logging.Field{Key: "endpoint", Value: endpoint},
			)
			force = true

		case status < 200 || status >= 300:
			return nil, errors.ProviderError("provider returned error", status, string(body))

		default:
			return body, nil
		}
	}
}

// doResourceRequest performs one HTTP round trip against the provider.
// Transport failures are returned as transport errors; any HTTP response,
// including errors, is returned with its status and body.
func (m *Manager) doResourceRequest(ctx context.Context, token, endpoint string, opts *CallOptions) (int, []byte, error) {
	method := http.MethodGet
	var body io.Reader

	if opts != nil {
		if opts.Method != "" {
			method = opts.Method
		}
		if len(opts.Body) > 0 {
			body = bytes.NewReader(opts.Body)
		}
	}

	requestURL := strings.TrimRight(m.config.APIBaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	if opts != nil && len(opts.Query) > 0 {
		requestURL += "?" + opts.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, nil, errors.InternalError("failed to create provider request", err)
	}

	if opts != nil {
		for key, value := range opts.Headers {
			req.Header.Set(key, value)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var resp *http.Response
	err = m.resourceBreaker.Execute(ctx, func() error {
		var httpErr error
		resp, httpErr = m.httpClient.Do(req)
		if httpErr != nil {
			return errors.TransportError("provider request failed", httpErr)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.TransportError("failed to read provider response", err)
	}

	return resp.StatusCode, respBody, nil
}
