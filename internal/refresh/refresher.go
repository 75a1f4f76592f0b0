// Package refresh exchanges a refresh token for a new access token.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"social-realtime/internal/logging"
	"social-realtime/internal/metrics"
)

const DefaultTimeout = 10 * time.Second

type Result struct {
	AccessToken  string
	RefreshToken string
}

type Refresher struct {
	http    *http.Client
	url     string
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// The backend has used both casings; accept either.
type refreshResponse struct {
	AccessToken       string `json:"accessToken"`
	AccessTokenSnake  string `json:"access_token"`
	RefreshToken      string `json:"refreshToken"`
	RefreshTokenSnake string `json:"refresh_token"`
}

func New(httpClient *http.Client, url string, timeout time.Duration, logger *logging.Logger, m *metrics.Metrics) *Refresher {
	if logger == nil {
		panic("refresh.New: logger must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Refresher{http: httpClient, url: url, timeout: timeout, logger: logger, metrics: m}
}

// Refresh performs one HTTP exchange. Concurrent calls for the same refresh
// token share a single in-flight request and its result.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (Result, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		r.metrics.RefreshResult("rejected")
		return Result{}, &RefreshError{StatusCode: http.StatusUnauthorized, Reason: "missing refresh token"}
	}
	ch := r.group.DoChan(token, func() (any, error) {
		// Detached from any single caller so one cancellation does not fail the others.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.exchange(callCtx, token)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("joined in-flight token refresh")
		}
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

func (r *Refresher) exchange(ctx context.Context, refreshToken string) (Result, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+refreshToken)

	r.logger.Debug("refreshing access token", logging.Field("url", r.url))
	resp, err := r.http.Do(req)
	if err != nil {
		r.metrics.RefreshResult("error")
		return Result{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()
	r.logger.Debugf("POST %s -> %s", r.url, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		r.logger.Warn("token refresh rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.Payload(data)),
		)
		if rejectedStatus(resp.StatusCode) {
			r.metrics.RefreshResult("rejected")
			return Result{}, &RefreshError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		r.metrics.RefreshResult("error")
		return Result{}, fmt.Errorf("refresh failed: %s", resp.Status)
	}

	var decoded refreshResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		r.metrics.RefreshResult("error")
		return Result{}, fmt.Errorf("invalid refresh response: %w", err)
	}
	result := Result{
		AccessToken:  firstNonEmpty(decoded.AccessToken, decoded.AccessTokenSnake),
		RefreshToken: firstNonEmpty(decoded.RefreshToken, decoded.RefreshTokenSnake),
	}
	if result.AccessToken == "" {
		r.metrics.RefreshResult("rejected")
		return Result{}, &RefreshError{StatusCode: resp.StatusCode, Status: resp.Status, Reason: "response carried no access token"}
	}
	r.metrics.RefreshResult("ok")
	r.logger.Debug("access token refreshed", logging.Field("rotated_refresh_token", result.RefreshToken != ""))
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
