package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext carries HTTP state across the steps of one scenario.
type TestContext struct {
	BaseURL string
	client  *http.Client

	status  int
	headers http.Header
	body    []byte

	// run-unique suffix so scenarios can be replayed against a live server
	suffix string
	saved  map[string]string
}

func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.status = 0
	tc.headers = nil
	tc.body = nil
	tc.suffix = fmt.Sprintf("%x", time.Now().UnixNano())
	tc.saved = map[string]string{}
}

// Unique appends the scenario suffix to s, keeping the result within the
// nickname length limit.
func (tc *TestContext) Unique(s string) string {
	u := s + "_" + tc.suffix
	if len(u) > 32 {
		u = u[:32]
	}
	return u
}

func (tc *TestContext) POSTRaw(path, body string) error {
	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

func (tc *TestContext) POST(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return tc.POSTRaw(path, string(bytes.TrimSpace(raw)))
}

func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequest(http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.status = resp.StatusCode
	tc.headers = resp.Header
	tc.body = body
	return nil
}

func (tc *TestContext) Status() int { return tc.status }

func (tc *TestContext) Header(k string) string { return tc.headers.Get(k) }

func (tc *TestContext) Body() []byte { return tc.body }

func (tc *TestContext) Save(key, value string) { tc.saved[key] = value }

func (tc *TestContext) Saved(key string) (string, bool) {
	v, ok := tc.saved[key]
	return v, ok
}
