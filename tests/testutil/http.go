package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// HTTPTestCase drives one request through a handler. Body is encoded as
// JSON; RawBody is sent as is, which signature checks need.
type HTTPTestCase struct {
	Name           string
	Method         string
	Path           string
	Query          url.Values
	Body           any
	RawBody        []byte
	Headers        map[string]string
	ExpectedStatus int
	ExpectedCode   string // error code of the response envelope
	ExpectedBody   map[string]any
	Setup          func(t *testing.T, tc *TestContext)
	Validate       func(t *testing.T, tc *TestContext)
}

// RunHTTPTestCases runs each case as a subtest
func RunHTTPTestCases(t *testing.T, handler gin.HandlerFunc, cases []HTTPTestCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			RunHTTPTestCase(t, handler, tc)
		})
	}
}

// RunHTTPTestCase runs a single case
func RunHTTPTestCase(t *testing.T, handler gin.HandlerFunc, tc HTTPTestCase) {
	t.Helper()

	req := newRequest(t, tc)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	testCtx := &TestContext{Context: c, Recorder: w}
	if tc.Setup != nil {
		tc.Setup(t, testCtx)
	}

	handler(c)

	if tc.ExpectedStatus != 0 {
		assert.Equal(t, tc.ExpectedStatus, w.Code, "unexpected status; body: %s", w.Body.String())
	}
	if tc.ExpectedCode != "" {
		AssertErrorResponse(t, testCtx, tc.ExpectedCode)
	}
	if tc.ExpectedBody != nil {
		actual := JSONResponse(t, testCtx)
		for key, want := range tc.ExpectedBody {
			assert.Equal(t, want, actual[key], "unexpected value for key %s", key)
		}
	}
	if tc.Validate != nil {
		tc.Validate(t, testCtx)
	}
}

func newRequest(t *testing.T, tc HTTPTestCase) *http.Request {
	t.Helper()

	var body io.Reader
	isJSON := false
	switch {
	case tc.RawBody != nil:
		body = bytes.NewReader(tc.RawBody)
		isJSON = true
	case tc.Body != nil:
		data, err := json.Marshal(tc.Body)
		require.NoError(t, err, "failed to marshal request body")
		body = bytes.NewReader(data)
		isJSON = true
	}

	method := tc.Method
	if method == "" {
		method = http.MethodGet
	}
	path := tc.Path
	if path == "" {
		path = "/"
	}
	if len(tc.Query) > 0 {
		path += "?" + tc.Query.Encode()
	}

	req := httptest.NewRequest(method, path, body)
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range tc.Headers {
		req.Header.Set(k, v)
	}
	return req
}

// JSONResponse parses the response body as a JSON object
func JSONResponse(t *testing.T, tc *TestContext) map[string]any {
	t.Helper()
	var result map[string]any
	require.NoError(t, json.Unmarshal(tc.ResponseBody(), &result), "failed to parse JSON response")
	return result
}

// DecodeData decodes the data field of a success envelope into T
func DecodeData[T any](t *testing.T, tc *TestContext) T {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(tc.ResponseBody(), &envelope), "failed to parse JSON response")
	require.True(t, envelope.Success, "expected a success envelope: %s", tc.ResponseBody())

	var out T
	require.NoError(t, json.Unmarshal(envelope.Data, &out), "failed to decode data")
	return out
}

// AssertErrorResponse asserts an error envelope carrying expectedCode
func AssertErrorResponse(t *testing.T, tc *TestContext, expectedCode string) {
	t.Helper()
	resp := JSONResponse(t, tc)
	assert.Equal(t, false, resp["success"], "expected success to be false")

	errMap, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected error object in response")
	assert.Equal(t, expectedCode, errMap["code"], "unexpected error code")
}
