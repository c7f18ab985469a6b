package fetchkit

import "testing"

func TestBuildSortedURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		aux  any
		want string
	}{
		{"no query", "/users", nil, "/users"},
		{"sorts existing", "/users?b=2&a=1", nil, "/users?a=1&b=2"},
		{"merges aux", "/users?b=2", map[string]any{"a": 1}, "/users?a=1&b=2"},
		{"drops empty fragments", "/users?&a=1&", nil, "/users?a=1"},
		{"empty aux", "/users?", map[string]any{}, "/users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildSortedURL(tt.url, tt.aux, defaultEncoder); got != tt.want {
				t.Errorf("BuildSortedURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildSortedURLOrderIndependent(t *testing.T) {
	want := BuildSortedURL("/p?x=1&y=2", map[string]any{"a": 1, "b": map[string]any{"c": 2, "d": 3}}, defaultEncoder)

	permutations := []struct {
		url string
		aux any
	}{
		{"/p?y=2&x=1", map[string]any{"b": map[string]any{"d": 3, "c": 2}, "a": 1}},
		{"/p?x=1&y=2", map[string]any{"a": 1, "b": map[string]any{"c": 2, "d": 3}}},
		{"/p?y=2&x=1", map[string]any{"a": 1, "b": map[string]any{"c": 2, "d": 3}}},
	}

	for _, p := range permutations {
		if got := BuildSortedURL(p.url, p.aux, defaultEncoder); got != want {
			t.Errorf("BuildSortedURL(%q) = %q, want %q", p.url, got, want)
		}
	}
}

func TestRequestKey(t *testing.T) {
	a := &Config{Method: "GET", BaseURL: "http://h/", URL: "/x", Params: map[string]any{"b": 2, "a": 1}}
	b := &Config{Method: "get", BaseURL: "http://h", URL: "x", Params: map[string]any{"a": 1, "b": 2}}

	if requestKey(a, nil) != requestKey(b, nil) {
		t.Errorf("keys differ: %q vs %q", requestKey(a, nil), requestKey(b, nil))
	}

	post := &Config{Method: "POST", BaseURL: "http://h", URL: "x", Params: map[string]any{"a": 1, "b": 2}}
	if requestKey(a, nil) == requestKey(post, nil) {
		t.Error("methods should not collide")
	}

	strip := func(c *Config) *Config {
		delete(c.Params, "b")
		return c
	}
	if got := requestKey(a, strip); got != "GET http://h/x?params[a]=1" {
		t.Errorf("normalized key = %q", got)
	}
	if _, ok := a.Params["b"]; !ok {
		t.Error("normalize must not mutate the request")
	}
}
