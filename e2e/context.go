package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var scenarioSeq atomic.Int64

// TestContext is the per-scenario state shared by all step packages.
type TestContext struct {
	BaseURL    string
	AdminToken string

	client     *http.Client
	run        string
	lastStatus int
	lastBody   []byte
	remembered map[string]float64
}

// NewTestContext targets IDENTIFY_BASE_URL (default http://localhost:3000).
// Every scenario gets a fresh run token so its values never collide with
// earlier runs against the same database.
func NewTestContext() *TestContext {
	base := os.Getenv("IDENTIFY_BASE_URL")
	if base == "" {
		base = "http://localhost:3000"
	}
	return &TestContext{
		BaseURL:    strings.TrimRight(base, "/"),
		AdminToken: os.Getenv("ADMIN_TOKEN"),
		client:     &http.Client{Timeout: 10 * time.Second},
		run:        strconv.FormatInt(time.Now().UnixNano(), 36) + strconv.FormatInt(scenarioSeq.Add(1), 36),
		remembered: map[string]float64{},
	}
}

// Expand replaces {run} in a step argument with the scenario's run token.
func (tc *TestContext) Expand(value string) string {
	return strings.ReplaceAll(value, "{run}", tc.run)
}

func (tc *TestContext) POST(path string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	req, err := http.NewRequest(http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

func (tc *TestContext) GetAdminToken() string {
	return tc.AdminToken
}

func (tc *TestContext) GetLastStatusCode() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

// GetResponseField walks a dotted path ("contact.emails") into the last JSON
// response body.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	current := doc
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not found in response", field)
		}
	}
	return current, nil
}

func (tc *TestContext) Remember(name string, value float64) {
	tc.remembered[name] = value
}

func (tc *TestContext) Recall(name string) (float64, bool) {
	v, ok := tc.remembered[name]
	return v, ok
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
	tc.lastStatus = resp.StatusCode
	tc.lastBody = body
	return nil
}
