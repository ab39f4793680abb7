//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// Drives a running screener instance over HTTP. Start one with the memory
// platform and point SCREENER_TEST_BASE_URL at it; SCREENER_TEST_EVENT_SECRET
// must match the instance's SCREENER_EVENT_SECRET.

func baseURL() string {
	if v := os.Getenv("SCREENER_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:8080"
}

func eventSecret(t *testing.T) string {
	v := os.Getenv("SCREENER_TEST_EVENT_SECRET")
	if v == "" {
		t.Skip("SCREENER_TEST_EVENT_SECRET not set")
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.OK {
		t.Fatalf("health body: ok=%v err=%v", body.OK, err)
	}
}

func TestJoinEventStartsScreening(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	secret := eventSecret(t)

	userID := fmt.Sprintf("itest_%d", time.Now().UnixNano())
	status, body := postEvent(t, client, secret, map[string]any{
		"type": "member_join",
		"member": map[string]string{
			"id":           userID,
			"username":     "itest",
			"display_name": "Integration Test",
		},
	})
	if status != http.StatusOK {
		t.Fatalf("member_join: status = %d, body = %s", status, body)
	}

	// A second join for the same member must also be accepted; the instance
	// resumes the session instead of opening another.
	status, body = postEvent(t, client, secret, map[string]any{
		"type":   "member_join",
		"member": map[string]string{"id": userID, "username": "itest"},
	})
	if status != http.StatusOK {
		t.Fatalf("repeat member_join: status = %d, body = %s", status, body)
	}
}

func TestEventEndpointRejectsBadSecret(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	status, _ := postEvent(t, client, "wrong-secret", map[string]any{
		"type":   "member_join",
		"member": map[string]string{"id": "itest"},
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad secret: status = %d", status)
	}
}

func TestAdminLoginAndStats(t *testing.T) {
	password := os.Getenv("SCREENER_TEST_ADMIN_PASSWORD")
	if password == "" {
		t.Skip("SCREENER_TEST_ADMIN_PASSWORD not set")
	}
	client := &http.Client{Timeout: 5 * time.Second}

	payload, _ := json.Marshal(map[string]string{"name": "itest", "password": password})
	resp, err := client.Post(baseURL()+"/api/admin/login", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/admin/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil || login.Token == "" {
		t.Fatalf("login body: token=%q err=%v", login.Token, err)
	}

	req, _ := http.NewRequest(http.MethodGet, baseURL()+"/api/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	statsResp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET /api/admin/stats: %v", err)
	}
	defer statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", statsResp.StatusCode)
	}
}

func postEvent(t *testing.T, client *http.Client, secret string, event map[string]any) (int, string) {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, baseURL()+"/api/events", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Secret", secret)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST /api/events: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}
