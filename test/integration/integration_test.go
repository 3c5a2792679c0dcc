package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var (
	apiURL           = getEnv("API_URL", "http://localhost:8080")
	redirectURL      = getEnv("REDIRECT_SERVICE_URL", "http://localhost:8081")
	testDomain       = getEnv("TEST_LINK_DOMAIN", "elga.io")
	testUserEmail    = fmt.Sprintf("test-%d@example.com", time.Now().UnixNano())
	testUserPassword = "testPassword123"
	testKeyword      = fmt.Sprintf("it-%d", time.Now().UnixNano()%1_000_000)

	authToken string
	linkID    string
)

// noRedirect stops the client at the 302 so the Location can be checked.
var noRedirect = &http.Client{
	Timeout: 10 * time.Second,
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		fmt.Println("Skipping integration tests. Set INTEGRATION_TEST=true to run.")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func call(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

func decodeData(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	envelope := struct {
		Data any `json:"data"`
	}{Data: v}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	for _, base := range []string{apiURL, redirectURL} {
		resp, err := http.Get(base + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s/health: expected status 200, got %d", base, resp.StatusCode)
		}
	}
}

func TestUserRegistration(t *testing.T) {
	resp := call(t, http.MethodPost, apiURL+"/api/auth/register", map[string]string{
		"email":    testUserEmail,
		"password": testUserPassword,
		"name":     "Test User",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}

	var session struct {
		Token string `json:"token"`
	}
	decodeData(t, resp, &session)
	if session.Token == "" {
		t.Fatal("expected a token")
	}
	authToken = session.Token
}

func TestUserLogin(t *testing.T) {
	resp := call(t, http.MethodPost, apiURL+"/api/auth/login", map[string]string{
		"email":    testUserEmail,
		"password": testUserPassword,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var session struct {
		Token string `json:"token"`
	}
	decodeData(t, resp, &session)
	if session.Token != "" {
		authToken = session.Token
	}
}

func TestCreateLink(t *testing.T) {
	if authToken == "" {
		t.Skip("no auth token")
	}

	resp := call(t, http.MethodPost, apiURL+"/api/v1/links", map[string]string{
		"url":     "https://example.com/integration",
		"keyword": testKeyword,
		"domain":  testDomain,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}

	var link struct {
		ID       string `json:"id"`
		Keyword  string `json:"keyword"`
		ShortURL string `json:"short_url"`
	}
	decodeData(t, resp, &link)
	if link.Keyword != testKeyword || link.ID == "" {
		t.Fatalf("unexpected link %+v", link)
	}
	linkID = link.ID
}

func TestDuplicateKeyword(t *testing.T) {
	if linkID == "" {
		t.Skip("no link created")
	}

	resp := call(t, http.MethodPost, apiURL+"/api/v1/links", map[string]string{
		"url":     "https://example.com/other",
		"keyword": testKeyword,
		"domain":  testDomain,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.StatusCode)
	}

	var e struct {
		Field       string   `json:"field"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if e.Field != "keyword" || len(e.Suggestions) == 0 {
		t.Errorf("unexpected conflict body %+v", e)
	}
}

func TestRedirect(t *testing.T) {
	if linkID == "" {
		t.Skip("no link created")
	}

	for _, base := range []string{apiURL, redirectURL} {
		resp := call(t, http.MethodGet, base+"/"+testDomain+"/"+testKeyword, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusFound {
			t.Errorf("%s: expected status 302, got %d", base, resp.StatusCode)
			continue
		}
		if loc := resp.Header.Get("Location"); loc != "https://example.com/integration" {
			t.Errorf("%s: unexpected Location %q", base, loc)
		}
	}
}

func TestRedirectNotFound(t *testing.T) {
	resp := call(t, http.MethodGet, redirectURL+"/"+testDomain+"/no-such-keyword", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestListLinks(t *testing.T) {
	if authToken == "" {
		t.Skip("no auth token")
	}

	resp := call(t, http.MethodGet, apiURL+"/api/v1/links?limit=5", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var page struct {
		Data  []json.RawMessage `json:"data"`
		Total int               `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if page.Total < 1 || len(page.Data) < 1 {
		t.Errorf("expected at least one link, got total=%d", page.Total)
	}
}

func TestDeactivateStopsRedirect(t *testing.T) {
	if linkID == "" {
		t.Skip("no link created")
	}

	resp := call(t, http.MethodPatch, apiURL+"/api/v1/links/"+linkID, map[string]bool{"active": false})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	// Other instances drop their copy through the invalidation channel.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp := call(t, http.MethodGet, redirectURL+"/"+testDomain+"/"+testKeyword, nil)
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("redirect still answers %d after deactivation", resp.StatusCode)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestDeleteLink(t *testing.T) {
	if linkID == "" {
		t.Skip("no link created")
	}

	resp := call(t, http.MethodDelete, apiURL+"/api/v1/links/"+linkID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.StatusCode)
	}

	resp = call(t, http.MethodGet, apiURL+"/api/v1/links/"+linkID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404 after delete, got %d", resp.StatusCode)
	}
}
