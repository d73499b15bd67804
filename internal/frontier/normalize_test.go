package frontier

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTP://EXAMPLE.com/Path", "http://example.com/Path"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps explicit port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"removes fragment", "https://example.com/a#section", "https://example.com/a"},
		{"adds root path", "https://example.com", "https://example.com/"},
		{"keeps root slash", "https://a.test/", "https://a.test/"},
		{"trims trailing slash", "https://example.com/a/b/", "https://example.com/a/b"},
		{"keeps query", "https://example.com/a?q=1", "https://example.com/a?q=1"},
		{"trims whitespace", "  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	t.Parallel()

	bad := []string{"", "ftp://example.com/file", "mailto:x@example.com", "not a url", "//example.com/a", "http://:80/a"}
	for _, in := range bad {
		if _, err := Normalize(in); err == nil {
			t.Errorf("Normalize(%q) expected error", in)
		}
	}
}

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://www.example.com/a", "example.com"},
		{"https://deep.sub.example.co.uk/", "example.co.uk"},
		{"https://a.test/", "a.test"},
	}
	for _, tt := range tests {
		if got := RegistrableDomain(tt.in); got != tt.want {
			t.Errorf("RegistrableDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPathSegments(t *testing.T) {
	t.Parallel()

	if got := pathSegments("https://example.com/"); got != 0 {
		t.Fatalf("root = %d, want 0", got)
	}
	if got := pathSegments("https://example.com/a/b/c"); got != 3 {
		t.Fatalf("a/b/c = %d, want 3", got)
	}
}
