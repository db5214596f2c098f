/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dcf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/foodcat/catsync/config"
	"github.com/foodcat/catsync/internal/request"
	"github.com/foodcat/catsync/model"
)

type submitPayload struct {
	Type        model.RequestType `json:"type"`
	Username    string            `json:"username"`
	Environment model.Environment `json:"environment"`
	Data        model.RequestData `json:"data"`
}

type statusPayload struct {
	RequestID string            `json:"request_id"`
	Status    model.Status      `json:"status"`
	Response  model.Response    `json:"response,omitempty"`
	Log       *model.PendingLog `json:"log,omitempty"`
}

type errorPayload struct {
	Reason     string            `json:"reason"`
	NodeErrors []model.NodeError `json:"node_errors,omitempty"`
}

type cataloguePayload struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HTTPClient is the JSON over HTTP implementation of Client.
type HTTPClient struct {
	cfg        config.DCFConfig
	httpClient *http.Client
	retries    uint64
}

type HTTPClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) {
		h.httpClient = c
	}
}

func NewHTTPClient(cfg config.DCFConfig, opts ...HTTPClientOption) *HTTPClient {
	h := &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		retries:    uint64(cfg.MaxSubmitRetries),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPClient) baseURL(env model.Environment) (string, error) {
	base := h.cfg.BaseURL(string(env))
	if base == "" {
		return "", fmt.Errorf("no dcf url configured for environment %s", env)
	}
	return strings.TrimRight(base, "/"), nil
}

// Submit posts the operation and returns once DCF assigned a request id.
func (h *HTTPClient) Submit(ctx context.Context, sub Submission) (Ticket, error) {
	base, err := h.baseURL(sub.Requestor.Environment)
	if err != nil {
		return Ticket{}, err
	}
	payload := submitPayload{
		Type:        sub.Type,
		Username:    sub.Requestor.Username,
		Environment: sub.Requestor.Environment,
		Data:        sub.Data,
	}

	var out statusPayload
	if err := h.do(ctx, http.MethodPost, base+"/requests", payload, &out, retryUnsent); err != nil {
		return Ticket{}, err
	}
	if out.RequestID == "" {
		return Ticket{}, errors.New("dcf accepted the request without a request id")
	}
	status := out.Status
	if status == "" {
		status = model.StatusWaiting
	}
	return Ticket{RequestID: out.RequestID, Status: status, Response: out.Response, Log: out.Log}, nil
}

func (h *HTTPClient) PollStatus(ctx context.Context, env model.Environment, requestID string) (StatusReport, error) {
	base, err := h.baseURL(env)
	if err != nil {
		return StatusReport{}, err
	}

	var out statusPayload
	if err := h.do(ctx, http.MethodGet, base+"/requests/"+url.PathEscape(requestID), nil, &out, retryAll); err != nil {
		return StatusReport{}, err
	}
	if out.Status.Rank() < 0 {
		return StatusReport{}, fmt.Errorf("dcf reported unknown status %q for request %s", out.Status, requestID)
	}
	return StatusReport{Status: out.Status, Response: out.Response, Log: out.Log}, nil
}

func (h *HTTPClient) DownloadCatalogue(ctx context.Context, env model.Environment, code string, version model.Version) (CatalogueSnapshot, error) {
	base, err := h.baseURL(env)
	if err != nil {
		return CatalogueSnapshot{}, err
	}
	endpoint := fmt.Sprintf("%s/catalogues/%s?version=%s", base, url.PathEscape(code), url.QueryEscape(version.String()))

	var out cataloguePayload
	if err := h.do(ctx, http.MethodGet, endpoint, nil, &out, retryAll); err != nil {
		return CatalogueSnapshot{}, err
	}
	v, err := model.ParseVersion(out.Version)
	if err != nil {
		return CatalogueSnapshot{}, fmt.Errorf("dcf returned catalogue %s with %w", code, err)
	}
	return CatalogueSnapshot{Code: out.Code, Name: out.Name, Version: v}, nil
}

type retryPolicy int

const (
	// retryAll retries every transport error and 5xx answer.
	retryAll retryPolicy = iota
	// retryUnsent retries only failures where DCF cannot have acted on the
	// call: the connection was never made or DCF answered 503. DCF has no way
	// to take back a request, so a lost answer must not be resubmitted.
	retryUnsent
)

func (p retryPolicy) retries(err error, status int) bool {
	if p == retryAll {
		return true
	}
	if err != nil {
		return notSent(err)
	}
	return status == http.StatusServiceUnavailable
}

func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// do sends one call, retrying transport errors and 5xx answers as policy
// allows. Any 4xx answer stops immediately with a RejectedError.
func (h *HTTPClient) do(ctx context.Context, method, endpoint string, payload, out interface{}, policy retryPolicy) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	var schedule backoff.BackOff = backoff.WithMaxRetries(b, h.retries)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		req, err := request.NewJSONRequest(ctx, method, endpoint, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Basic "+request.BasicAuth(h.cfg.Username, h.cfg.Password))

		var body json.RawMessage
		resp, err := request.Do(h.httpClient, req, &body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if resp == nil {
				logrus.WithFields(logrus.Fields{"url": endpoint, "attempt": attempt}).Warnf("dcf call failed: %v", err)
				if !policy.retries(err, 0) {
					return backoff.Permanent(err)
				}
				return err
			}
		}

		switch {
		case resp.StatusCode >= 500:
			logrus.WithFields(logrus.Fields{"url": endpoint, "attempt": attempt, "status": resp.StatusCode}).Warn("dcf server error")
			err := fmt.Errorf("dcf returned status %d", resp.StatusCode)
			if !policy.retries(nil, resp.StatusCode) {
				return backoff.Permanent(err)
			}
			return err
		case resp.StatusCode >= 400:
			var e errorPayload
			_ = decodeBody(body, &e)
			if e.Reason == "" {
				e.Reason = http.StatusText(resp.StatusCode)
			}
			return backoff.Permanent(&RejectedError{StatusCode: resp.StatusCode, Reason: e.Reason, NodeErrors: e.NodeErrors})
		}

		if out == nil {
			return nil
		}
		if err := decodeBody(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode dcf response: %w", err))
		}
		return nil
	}, backoff.WithContext(schedule, ctx))
}

func decodeBody(body json.RawMessage, out interface{}) error {
	if len(body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(body, out)
}
