package fetchkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	got := GetVersion()
	if !strings.HasPrefix(got, "fetchkit "+Version+" (commit: ") {
		t.Errorf("GetVersion() = %q", got)
	}

	old := GitCommit
	GitCommit = "abc123"
	defer func() { GitCommit = old }()

	info := GetVersionInfo()
	if info["commit"] != "abc123" || info["version"] != Version {
		t.Errorf("GetVersionInfo() = %v", info)
	}
	if info["go_version"] == "" || info["build_date"] == "" {
		t.Errorf("GetVersionInfo() missing fields: %v", info)
	}
}

func TestUserAgent(t *testing.T) {
	agents := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL))
	if _, err := client.Get(context.Background(), "/"); err != nil {
		t.Fatal(err)
	}
	if got := <-agents; got != "fetchkit/"+Version {
		t.Errorf("User-Agent = %q", got)
	}

	if _, err := client.Get(context.Background(), "/", &Config{Header: NewHeader("User-Agent", "custom/1")}); err != nil {
		t.Fatal(err)
	}
	if got := <-agents; got != "custom/1" {
		t.Errorf("User-Agent = %q, want custom/1", got)
	}
}
