package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Invocation is everything a runtime needs to run one function body. The
// capability object handed to the user code is exactly this: the merged job
// data plus a client pre-authenticated with the job's token. Nothing else
// from the worker process is reachable.
type Invocation struct {
	FunctionID string         `json:"functionId"`
	Code       string         `json:"code"`
	Data       map[string]any `json:"data"`
	Token      string         `json:"token"`
	APIURL     string         `json:"apiUrl"`
	DomainID   string         `json:"domainId"`
}

// Runtime runs one function body inside an isolation boundary. The passed
// context carries the invocation's wall-clock budget; implementations must
// abort when it expires.
type Runtime interface {
	Run(ctx context.Context, inv Invocation) error
}

// runLog is one log line emitted by the executed function.
type runLog struct {
	Msg     string `json:"msg"`
	Details any    `json:"details,omitempty"`
}

type runResult struct {
	Success bool     `json:"success"`
	Logs    []runLog `json:"logs,omitempty"`
}

// HTTPRuntime delegates execution to an external runner service that holds
// the actual sandbox (a VM per invocation). The worker process never
// evaluates user code itself.
type HTTPRuntime struct {
	url  string
	http *http.Client
}

// NewHTTPRuntime creates a runtime backed by the runner service at url.
// The per-invocation timeout is enforced through the request context, so the
// HTTP client itself carries no timeout.
func NewHTTPRuntime(url string) *HTTPRuntime {
	return &HTTPRuntime{
		url:  url,
		http: &http.Client{},
	}
}

// Run submits the invocation to the runner and interprets its verdict.
func (r *HTTPRuntime) Run(ctx context.Context, inv Invocation) error {
	body, err := json.Marshal(inv)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/exec", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runner returned %s", resp.Status)
	}

	var result runResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode runner response: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("function reported failure: %s", summarizeLogs(result.Logs))
	}
	return nil
}

func summarizeLogs(logs []runLog) string {
	if len(logs) == 0 {
		return "no output"
	}
	msgs := make([]string, 0, len(logs))
	for _, l := range logs {
		msgs = append(msgs, l.Msg)
	}
	return strings.Join(msgs, "; ")
}
