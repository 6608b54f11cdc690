/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package egress

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-egressthrottle/throttle"
)

// NewTooManyRequestsResponse builds a standardized "429 Too Many Requests" response
// from an exceeded result.
//
// The Retry-After header keeps the type of the input value: a delta in seconds stays
// an integer, a date is formatted as an HTTP date. When the value parses as neither,
// the header is omitted and the body carries no usable hint; this is a degraded
// but non-fatal outcome.
func NewTooManyRequestsResponse(req *http.Request, exceeded *throttle.ExceededResult) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")

	var body string
	if secs, ok := parseRetryAfterSeconds(exceeded.RetryAfterValue); ok {
		header.Set("Retry-After", strconv.Itoa(secs))
		body = fmt.Sprintf("Too many requests. Retry after %d second(s).", secs)
	} else if t, ok := parseRetryAfterDate(exceeded.RetryAfterValue); ok {
		retryAt := t.UTC().Format(http.TimeFormat)
		header.Set("Retry-After", retryAt)
		body = fmt.Sprintf("Too many requests. Retry after %s.", retryAt)
	} else {
		body = "Too many requests."
	}

	bodyBytes := []byte(body)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests)),
		StatusCode:    http.StatusTooManyRequests,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(bodyBytes)),
		ContentLength: int64(len(bodyBytes)),
		Request:       req,
	}
}

func parseRetryAfterSeconds(val string) (int, bool) {
	secs, err := strconv.Atoi(val)
	if err != nil || secs < 0 {
		return 0, false
	}
	return secs, true
}

func parseRetryAfterDate(val string) (time.Time, bool) {
	t, err := time.Parse(time.RFC1123, val)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
