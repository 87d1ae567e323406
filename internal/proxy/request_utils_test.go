package proxy

import (
	"bytes"
	"compress/gzip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNormalizeTarget(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://example.com/a?b=c", "https://example.com/a?b=c", true},
		{"  HTTP://Example.com/  ", "http://Example.com/", true},
		{"example.com/path", "http://example.com/path", true},
		{"", "", false},
		{"ftp://example.com/", "", false},
		{"javascript://alert(1)", "", false},
		{"http://", "", false},
	}
	for _, tc := range cases {
		got, err := normalizeTarget(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("normalizeTarget(%q) = (%q, %v), want (%q, ok=%v)", tc.in, got, err, tc.want, tc.ok)
		}
	}
}

func TestParseStylesheet(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"default", defaultStylesheet, true},
		{"simple", "a { color: red }", true},
		{"empty", "  ", false},
		{"import", `@import "x.css";`, false},
		{"media", "@media print { a { color: red } }", false},
		{"remote image", "a { background: url(https://evil.test/p.gif) }", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, err := ParseStylesheet(tc.in)
			if (err == nil) != tc.ok {
				t.Fatalf("ParseStylesheet(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			}
			if tc.ok && strings.TrimSpace(out) == "" {
				t.Fatalf("ParseStylesheet(%q) returned empty output", tc.in)
			}
		})
	}
}

func TestSiteConfigStoreFind(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("example.com.json", `{"mode":" Plain ","headers":{"Cookie":"a=b"}}`)
	write("broken.org.json", `{`)
	store := newSiteConfigStore(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cfg := store.Find("https://deep.mail.example.com:8443/x")
	if cfg == nil || cfg.Mode != siteModePlain || cfg.Headers["Cookie"] != "a=b" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if cfg.UseJS(true) {
		t.Fatalf("plain mode must disable JS")
	}
	if store.Find("https://broken.org/") != nil {
		t.Fatalf("broken config should be ignored")
	}
	if store.Find("not a url") != nil {
		t.Fatalf("unparseable target should have no config")
	}
	var none *SiteConfig
	if !none.UseJS(true) || none.UseJS(false) {
		t.Fatalf("nil config must use the default")
	}
}

func TestPageCacheTTL(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newPageCache(time.Minute, func() time.Time { return now })

	c.Store("k", "https://example.com/", []byte("page"))
	data, u, ok := c.Select("k")
	if !ok || string(data) != "page" || u != "https://example.com/" {
		t.Fatalf("Select = %q %q %v", data, u, ok)
	}

	now = now.Add(time.Minute)
	if _, _, ok := c.Select("k"); ok {
		t.Fatalf("entry should have expired")
	}
	c.Store("other", "", []byte("x"))
	if c.Len() != 1 {
		t.Fatalf("expired entries should be pruned, len=%d", c.Len())
	}

	off := newPageCache(0, nil)
	off.Store("k", "", []byte("page"))
	if _, _, ok := off.Select("k"); ok || off.Len() != 0 {
		t.Fatalf("zero ttl must disable caching")
	}
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	io.WriteString(gz, "<p>hello</p>")
	gz.Close()

	got, err := decodeBody("gzip", &buf)
	if err != nil || string(got) != "<p>hello</p>" {
		t.Fatalf("decodeBody(gzip) = %q, %v", got, err)
	}
	got, err = decodeBody("", strings.NewReader("plain"))
	if err != nil || string(got) != "plain" {
		t.Fatalf("decodeBody(identity) = %q, %v", got, err)
	}
	if _, err := decodeBody("gzip", strings.NewReader("not gzip")); err == nil {
		t.Fatalf("expected error for corrupt gzip")
	}
}
