package github

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gogithub "github.com/google/go-github/v60/github"
)

// lowQuota is the remaining request count below which the client warns.
const lowQuota = 100

// defaultRateLimitWait applies when GitHub signals a limit without saying
// when it lifts.
const defaultRateLimitWait = time.Minute

var (
	ErrNotFound     = errors.New("github resource not found")
	ErrUnauthorized = errors.New("github rejected credentials")
)

// RateLimitError reports a primary or secondary GitHub rate limit.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github rate limit exceeded, retry in %s", e.Wait.Round(time.Second))
}

// Retryable reports whether a failed call may succeed if repeated. Missing
// resources and rejected credentials will not.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnauthorized)
}

// quotaLow reports whether resp carried rate headers showing fewer than
// lowQuota requests left.
func quotaLow(resp *gogithub.Response) bool {
	return resp != nil && resp.Rate.Limit > 0 && resp.Rate.Remaining < lowQuota
}

// rateLimitWait reads how long a 403 or 429 asks the caller to back off. A
// 403 only counts when the quota is spent or Retry-After is present;
// otherwise it is a permission failure.
func rateLimitWait(resp *gogithub.Response) (time.Duration, bool) {
	if resp == nil || resp.Response == nil {
		return 0, false
	}
	retryAfter := resp.Header.Get("Retry-After")
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
	case http.StatusForbidden:
		spent := resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
		if !spent && retryAfter == "" {
			return 0, false
		}
	default:
		return 0, false
	}

	if s, err := strconv.Atoi(retryAfter); err == nil && s > 0 {
		return time.Duration(s) * time.Second, true
	}
	if d := time.Until(resp.Rate.Reset.Time); d > 0 {
		return d, true
	}
	return defaultRateLimitWait, true
}

// classify maps a go-github failure onto the package's error taxonomy,
// prefixing op. Anything unrecognised is wrapped unchanged.
func classify(op string, resp *gogithub.Response, err error) error {
	if err == nil {
		return nil
	}

	var rle *gogithub.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Errorf("%s: %w", op, &RateLimitError{Wait: max(time.Until(rle.Rate.Reset.Time), 0)})
	}
	var abuse *gogithub.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return fmt.Errorf("%s: %w", op, &RateLimitError{Wait: abuse.GetRetryAfter()})
	}

	if wait, ok := rateLimitWait(resp); ok {
		return fmt.Errorf("%s: %w", op, &RateLimitError{Wait: wait})
	}
	if resp != nil && resp.Response != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, ErrUnauthorized)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
