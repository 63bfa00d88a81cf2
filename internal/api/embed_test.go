package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed(t *testing.T) {
	env := newTestServer(t)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/runtimes/ml/embed",
		`{"model_path": "/models/bge-m3", "texts": ["hello", "world"]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Runtime != "ml" {
		t.Errorf("runtime = %q, want ml", body.Runtime)
	}
	if len(body.Result) == 0 {
		t.Error("result is empty, want the worker payload")
	}
}

func TestEmbedValidation(t *testing.T) {
	env := newTestServer(t)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/runtimes/ml/embed", `{"texts": []}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEmbedUnknownRuntime(t *testing.T) {
	env := newTestServer(t)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/runtimes/nope/embed", `{"texts": ["hello"]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
