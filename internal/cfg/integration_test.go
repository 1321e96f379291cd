package cfg

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

func TestIntegrationValidator_MissingAPIURL(t *testing.T) {
	c := newTestConfig(t, nil)
	r := NewIntegrationValidator().Validate(c)

	want := "API URL (LMEDGE_UPSTREAM_URL) is required but not set"
	if len(r.Warnings) != 1 || r.Warnings[0] != want {
		t.Fatalf("warnings=%q want [%q]", r.Warnings, want)
	}
	if r.OK() {
		t.Fatal("OK() should be false with warnings")
	}
}

func TestIntegrationValidator_GiscusPartial(t *testing.T) {
	c := newTestConfig(t, []string{
		"-upstream-url=http://cms:1337",
		"-giscus-repo=owner/repo",
	})
	r := NewIntegrationValidator().Validate(c)

	for _, want := range []string{
		"Giscus repository ID (LMEDGE_GISCUS_REPO_ID) is required but not set",
		"Giscus category (LMEDGE_GISCUS_CATEGORY) is required but not set",
		"Giscus category ID (LMEDGE_GISCUS_CATEGORY_ID) is required but not set",
	} {
		if !containsString(r.Warnings, want) {
			t.Errorf("missing warning %q in %q", want, r.Warnings)
		}
	}
	if len(r.Warnings) != 3 {
		t.Errorf("want exactly 3 warnings, got %d: %q", len(r.Warnings), r.Warnings)
	}
}

func TestIntegrationValidator_GiscusFormat(t *testing.T) {
	c := newTestConfig(t, []string{
		"-upstream-url=http://cms:1337",
		"-giscus-repo=not a repo",
		"-giscus-repo-id=X_123",
		"-giscus-category=General",
		"-giscus-category-id=DC_123",
	})
	r := NewIntegrationValidator().Validate(c)
	if len(r.Warnings) != 3 {
		t.Fatalf("want 3 format warnings, got %q", r.Warnings)
	}
	if !strings.Contains(r.Warnings[0], `must be in format "owner/repo"`) {
		t.Errorf("repo warning: %q", r.Warnings[0])
	}
	if !strings.Contains(r.Warnings[1], "starts with R_") {
		t.Errorf("repo id warning: %q", r.Warnings[1])
	}
	if !strings.Contains(r.Warnings[2], "starts with DIC_") {
		t.Errorf("category id warning: %q", r.Warnings[2])
	}
}

func TestIntegrationValidator_GiscusValid(t *testing.T) {
	c := newTestConfig(t, []string{
		"-upstream-url=http://cms:1337",
		"-giscus-repo=keith.l/site_content",
		"-giscus-repo-id=R_kgDOabc_1",
		"-giscus-category=Announcements",
		"-giscus-category-id=DIC_kwDOabc",
	})
	if r := NewIntegrationValidator().Validate(c); !r.OK() {
		t.Fatalf("unexpected warnings: %q", r.Warnings)
	}
}

func TestIntegrationValidator_AuthPair(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "url only",
			args: []string{"-auth-url=https://example.com"},
			want: []string{"Auth secret (LMEDGE_AUTH_SECRET) is required but not set"},
		},
		{
			name: "weak secret only",
			args: []string{"-auth-secret=short"},
			want: []string{
				"Auth URL (LMEDGE_AUTH_URL) is required but not set",
				"LMEDGE_AUTH_SECRET is too weak (should be at least 32 characters)",
			},
		},
		{
			name: "both strong",
			args: []string{"-auth-url=https://example.com", "-auth-secret=" + strings.Repeat("x", 32)},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConfig(t, append([]string{"-upstream-url=http://cms:1337"}, tt.args...))
			r := NewIntegrationValidator().Validate(c)
			if len(r.Warnings) != len(tt.want) {
				t.Fatalf("warnings=%q want %q", r.Warnings, tt.want)
			}
			for i := range tt.want {
				if r.Warnings[i] != tt.want[i] {
					t.Errorf("warning[%d]=%q want %q", i, r.Warnings[i], tt.want[i])
				}
			}
		})
	}
}

func TestIntegrationValidator_CustomPrefix(t *testing.T) {
	v := &IntegrationValidator{Prefix: "SITE_"}
	r := v.Validate(newTestConfig(t, nil))
	if len(r.Warnings) != 1 || !strings.Contains(r.Warnings[0], "SITE_UPSTREAM_URL") {
		t.Fatalf("warnings=%q", r.Warnings)
	}
}

func TestReport_LogEmitsWarnings(t *testing.T) {
	var buf bytes.Buffer
	L, err := log.New(log.Options{App: "test", JSON: true, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	r := Report{Warnings: []string{"one", "two"}}
	r.Log(context.Background(), L)

	out := buf.String()
	if strings.Count(out, `"msg":"config warning"`) != 2 {
		t.Fatalf("expected 2 warning lines, got: %s", out)
	}
	// nil logger must not panic
	r.Log(context.Background(), nil)
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func TestGiscusEnabled(t *testing.T) {
	valid := []string{
		"-giscus-repo=owner/repo",
		"-giscus-repo-id=R_kgDOabc",
		"-giscus-category=Comments",
		"-giscus-category-id=DIC_kwDOabc",
	}
	if !newTestConfig(t, valid).GiscusEnabled() {
		t.Fatal("fully configured widget should be enabled")
	}
	if newTestConfig(t, nil).GiscusEnabled() {
		t.Fatal("unconfigured widget should be disabled")
	}
	if newTestConfig(t, valid[:2]).GiscusEnabled() {
		t.Fatal("partial configuration should be disabled")
	}

	bad := append([]string(nil), valid...)
	bad[1] = "-giscus-repo-id=12345"
	if newTestConfig(t, bad).GiscusEnabled() {
		t.Fatal("malformed repo id should be disabled")
	}
}
