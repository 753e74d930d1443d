//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"
)

func baseURL() string {
	if addr := os.Getenv("TEST_ADDR"); addr != "" {
		return addr
	}
	return "http://localhost"
}

func TestHealthz(t *testing.T) {
	resp, err := http.Get(baseURL() + "/api/healthz")
	if err != nil {
		t.Fatalf("GET /api/healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	body := `{"username":"admin","password":"admin"}`
	resp, err := http.Post(baseURL()+"/api/auth/login", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /api/auth/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
		return
	}
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if tok, ok := result["token"].(string); !ok || tok == "" {
		t.Error("expected non-empty token in response")
	}
}

func TestMeAuthenticated(t *testing.T) {
	tok := adminToken(t)

	req, err := http.NewRequest(http.MethodGet, baseURL()+"/api/auth/me", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/auth/me: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
		return
	}
	var user map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if user["Username"] != "admin" {
		t.Errorf("expected username=admin, got %v", user["Username"])
	}
}

func TestCreateAndFetchJob(t *testing.T) {
	tok := adminToken(t)

	body := `{"url":"https://example.com/watch?v=abc123","priority":5}`
	req, _ := http.NewRequest(http.MethodPost, baseURL()+"/api/jobs", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	id, _ := created["ID"].(string)
	if id == "" {
		t.Fatal("expected non-empty job id in create response")
	}

	getReq, _ := http.NewRequest(http.MethodGet, baseURL()+"/api/jobs/"+id, nil)
	getReq.Header.Set("Authorization", "Bearer "+tok)
	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		t.Fatalf("GET /api/jobs/%s: %v", id, err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", getResp.StatusCode)
	}
}

func TestCreateJobRejectsInvalidURL(t *testing.T) {
	tok := adminToken(t)

	body := `{"url":"not-a-url"}`
	req, _ := http.NewRequest(http.MethodPost, baseURL()+"/api/jobs", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// adminToken logs in as the default admin and returns the access token.
func adminToken(t *testing.T) string {
	t.Helper()
	body := `{"username":"admin","password":"admin"}`
	resp, err := http.Post(baseURL()+"/api/auth/login", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	tok, ok := result["token"].(string)
	if !ok || tok == "" {
		t.Fatal("no token in login response")
	}
	return tok
}
