// Package testutil holds helpers shared by the HTTP handler tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// LoopbackAddr is a RemoteAddr that tsweb's debug routes accept.
const LoopbackAddr = "127.0.0.1:12345"

// NewLoopbackRequest builds a request that appears to come from localhost.
func NewLoopbackRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = LoopbackAddr
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// DecodeJSON decodes the recorded body into a T and fails the test on a
// malformed body.
func DecodeJSON[T any](t testing.TB, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}
