package httpapi

import "testing"

func TestNormalizeBasePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"//", ""},
		{"fleetcon", "/fleetcon"},
		{"/fleetcon", "/fleetcon"},
		{" /fleetcon/ ", "/fleetcon"},
		{"/ops/fleetcon/", "/ops/fleetcon"},
	}
	for _, tc := range cases {
		if got := normalizeBasePath(tc.in); got != tc.want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAdvertisedRoot(t *testing.T) {
	cases := []struct {
		name      string
		publicURL string
		addr      string
		basePath  string
		want      string
	}{
		{name: "wildcard", addr: ":27490", want: "http://127.0.0.1:27490"},
		{name: "unspecified-v4", addr: "0.0.0.0:8080", basePath: "ops", want: "http://127.0.0.1:8080/ops"},
		{name: "unspecified-v6", addr: "[::]:8080", want: "http://127.0.0.1:8080"},
		{name: "named-host", addr: "runner.lan:9000", want: "http://runner.lan:9000"},
		{name: "v6-host", addr: "[fd00::1]:9000", want: "http://[fd00::1]:9000"},
		{name: "public-url", publicURL: "https://ops.example.com/", addr: ":27490", basePath: "/fleetcon/", want: "https://ops.example.com/fleetcon"},
		{name: "bad-addr", addr: "nonsense", want: ""},
	}
	for _, tc := range cases {
		if got := advertisedRoot(tc.publicURL, tc.addr, tc.basePath); got != tc.want {
			t.Fatalf("%s: advertisedRoot = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestServerAPIRoot(t *testing.T) {
	srv := NewServer(Config{Addr: ":27490", BaseURL: "https://ops.example.com", BasePath: "/ops"}, nil)
	if got := srv.APIRoot(); got != "https://ops.example.com/ops" {
		t.Fatalf("APIRoot = %q", got)
	}
}
