package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// maxDrainBytes bounds how much of an HTTP response body is read before close.
const maxDrainBytes = 64 * 1024

// outcome is the result of one check.
type outcome struct {
	healthy      bool
	reason       string
	responseTime time.Duration
}

// checker runs one check. ctx already carries the probe timeout.
type checker func(ctx context.Context) outcome

// newChecker returns the checker for a validated, defaulted config.
func newChecker(c Config) checker {
	switch c.Type {
	case TypeHTTP:
		return httpChecker(c)
	case TypeTCP:
		return tcpChecker(c)
	case TypeMetrics:
		return metricsChecker(c)
	default:
		return customChecker(c)
	}
}

// httpChecker succeeds iff the final response status equals ExpectedStatus.
// Up to MaxRedirects redirects are followed unless FollowRedirects is false,
// in which case the 3xx itself is compared.
func httpChecker(c Config) checker {
	client := newHTTPClient(c)
	if c.followRedirects() {
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) > MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", MaxRedirects)
			}
			return nil
		}
	} else {
		client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}

	return func(ctx context.Context) outcome {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, c.Method, c.URL, nil)
		if err != nil {
			return outcome{reason: fmt.Sprintf("build request: %v", err)}
		}
		for k, v := range c.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		rt := time.Since(start)
		if err != nil {
			return outcome{reason: failureReason(ctx, err, c.Timeout), responseTime: rt}
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

		if resp.StatusCode != c.ExpectedStatus {
			return outcome{
				reason:       fmt.Sprintf("unexpected status %d (want %d)", resp.StatusCode, c.ExpectedStatus),
				responseTime: rt,
			}
		}
		return outcome{healthy: true, responseTime: rt}
	}
}

func newHTTPClient(c Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // user-configured
			},
		},
	}
}

// tcpChecker succeeds iff a TCP connection completes before the timeout. The
// connection is closed immediately.
func tcpChecker(c Config) checker {
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	return func(ctx context.Context) outcome {
		start := time.Now()
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		rt := time.Since(start)
		if err != nil {
			return outcome{reason: failureReason(ctx, err, c.Timeout), responseTime: rt}
		}
		conn.Close()
		return outcome{healthy: true, responseTime: rt}
	}
}

// customChecker wraps the user predicate; errors and panics become failures.
// The predicate runs on its own goroutine so the probe timeout holds even when
// it ignores ctx.
func customChecker(c Config) checker {
	return func(ctx context.Context) outcome {
		start := time.Now()
		done := make(chan outcome, 1)
		go func() { done <- runCustom(ctx, c.Check) }()

		select {
		case out := <-done:
			out.responseTime = time.Since(start)
			return out
		case <-ctx.Done():
			return outcome{reason: failureReason(ctx, ctx.Err(), c.Timeout), responseTime: time.Since(start)}
		}
	}
}

func runCustom(ctx context.Context, check CheckFunc) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{reason: fmt.Sprintf("check panicked: %v", r)}
		}
	}()

	res, err := check(ctx)
	if err != nil {
		return outcome{reason: err.Error()}
	}
	if !res.Healthy {
		reason := res.Message
		if reason == "" {
			reason = "check reported unhealthy"
		}
		return outcome{reason: reason}
	}
	return outcome{healthy: true}
}

// failureReason prefers a timeout message when the probe deadline fired.
func failureReason(ctx context.Context, err error, timeout time.Duration) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	return err.Error()
}
