package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/catalog-indexer/pkg/errors"
)

// upstreamErrorBody covers the two error shapes remote APIs return:
// {"errors": "message"} and {"errors": [{"message": "..."}]}.
type upstreamErrorBody struct {
	Errors json.RawMessage `json:"errors"`
}

func (b upstreamErrorBody) message() string {
	if len(b.Errors) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(b.Errors, &s) == nil {
		return s
	}
	var list []struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(b.Errors, &list) == nil {
		msgs := make([]string, 0, len(list))
		for _, e := range list {
			msgs = append(msgs, e.Message)
		}
		return strings.Join(msgs, "; ")
	}
	return string(b.Errors)
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// translates it into an AppError carrying the upstream message.
func ParseResponseError(resp *http.Response, upstream string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", upstream, resp.StatusCode, err)
	}

	msg := strings.TrimSpace(string(body))
	var parsed upstreamErrorBody
	if json.Unmarshal(body, &parsed) == nil {
		if m := parsed.message(); m != "" {
			msg = m
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return mapStatus(resp.StatusCode, fmt.Sprintf("%s: %s", upstream, msg))
}

func mapStatus(status int, msg string) error {
	switch {
	case status == http.StatusNotFound:
		return &apperrors.AppError{Code: "NOT_FOUND", Message: msg, Status: status, Err: apperrors.ErrNotFound}
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(msg)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case status == http.StatusConflict:
		return apperrors.Conflict(msg)
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimited(msg)
	case status >= 500:
		err := apperrors.Unavailable(msg)
		err.Status = status
		return err
	default:
		return &apperrors.AppError{Code: "UPSTREAM_ERROR", Message: msg, Status: status}
	}
}

// IsClientError reports whether status is a 4xx.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
