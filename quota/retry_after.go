/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quota

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfter is the upper bound of parsed retry-after hints. Larger hints are reduced to it.
const MaxRetryAfter = 24 * time.Hour

var tryAgainInRegexp = regexp.MustCompile(`(?i)try again in (\d+) seconds?`)

// ParseRetryAfter extracts the retry-after hint from the failure. The sources are checked in the following order:
//  1. RetryAfter() (time.Duration, bool) method of any error in the chain;
//  2. Retry-After HTTP header of the response (delay in seconds or HTTP date);
//  3. "retryAfter" field (seconds) of the JSON response body, top-level or inside "error";
//  4. "try again in N seconds" phrase in the error message or the response body.
func ParseRetryAfter(err error, now time.Time) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	var ra interface{ RetryAfter() (time.Duration, bool) }
	if errors.As(err, &ra) {
		if d, ok := ra.RetryAfter(); ok {
			return d, true
		}
	}

	if header := responseHeader(err); header != nil {
		if d, ok := parseRetryAfterHeader(header.Get("Retry-After"), now); ok {
			return d, true
		}
	}

	body := responseBody(err)
	if d, ok := parseRetryAfterFromBody(body); ok {
		return d, true
	}

	for _, s := range []string{err.Error(), string(body)} {
		if m := tryAgainInRegexp.FindStringSubmatch(s); m != nil {
			if d, ok := parseIntSeconds(m[1]); ok {
				return d, true
			}
		}
	}
	return 0, false
}

func parseRetryAfterHeader(val string, now time.Time) (time.Duration, bool) {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, false
	}
	if val[0] == '-' || (val[0] >= '0' && val[0] <= '9') {
		return parseIntSeconds(val)
	}
	parsedTime, err := http.ParseTime(val)
	if err != nil {
		return 0, false
	}
	return min(max(parsedTime.Sub(now), 0), MaxRetryAfter), true
}

// parseIntSeconds parses a decimal number of seconds. Values out of the int64 range are not rejected
// but reduced to MaxRetryAfter like any other too large hint.
func parseIntSeconds(s string) (time.Duration, bool) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) && secs > 0 {
			return MaxRetryAfter, true
		}
		return 0, false
	}
	return secondsToDuration(float64(secs))
}

// secondsToDuration converts seconds to time.Duration without overflow.
func secondsToDuration(secs float64) (time.Duration, bool) {
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false
	}
	if secs >= MaxRetryAfter.Seconds() {
		return MaxRetryAfter, true
	}
	return time.Duration(secs * float64(time.Second)), true
}

func parseRetryAfterFromBody(body []byte) (time.Duration, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return 0, false
	}
	var payload struct {
		RetryAfter json.RawMessage `json:"retryAfter"`
		Error      json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return 0, false
	}
	if d, ok := parseRetryAfterValue(payload.RetryAfter); ok {
		return d, true
	}
	if len(payload.Error) != 0 && payload.Error[0] == '{' {
		return parseRetryAfterFromBody(payload.Error)
	}
	return 0, false
}

// parseRetryAfterValue accepts a number of seconds either as a JSON number or a JSON string.
func parseRetryAfterValue(raw json.RawMessage) (time.Duration, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		var s string
		if err = json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		if secs, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0, false
		}
	}
	return secondsToDuration(secs)
}
