package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// RESTTransport posts commands to a host agent exposing
// POST {endpoint}/execute with bearer authentication.
type RESTTransport struct {
	client *fasthttp.Client
}

func NewRESTTransport() *RESTTransport {
	return &RESTTransport{client: &fasthttp.Client{
		Name:                "autoremedy-executor",
		MaxIdleConnDuration: time.Minute,
		ReadTimeout:         10 * time.Minute,
		WriteTimeout:        30 * time.Second,
	}}
}

const restDefaultTimeout = 5 * time.Minute

type restRequest struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type restResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (t *RESTTransport) Run(ctx context.Context, conn Connection, command string) (*Result, error) {
	if conn.API == nil {
		return nil, fmt.Errorf("%w: api config missing", ErrInvalidConnection)
	}
	deadline := time.Now().Add(restDefaultTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	body, err := json.Marshal(restRequest{
		Command:        command,
		TimeoutSeconds: int(time.Until(deadline).Seconds()),
	})
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(conn.API.Endpoint, "/") + "/execute")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+conn.API.Token)
	req.SetBody(body)

	// req and resp are pooled; they must not outlive this call.
	start := time.Now()
	if err := t.client.DoDeadline(req, resp, deadline); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &Result{ExitCode: -1, Duration: time.Since(start)}, ctxErr
		}
		if errors.Is(err, fasthttp.ErrTimeout) {
			return &Result{ExitCode: -1, Duration: time.Since(start)}, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("rest call: %w", err)
	}

	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return nil, fmt.Errorf("rest call: unexpected status %d: %s", status, truncate(string(resp.Body()), 200))
	}
	var out restResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("rest call: decode response: %w", err)
	}
	return &Result{
		Success:  out.ExitCode == 0,
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Duration: time.Since(start),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
