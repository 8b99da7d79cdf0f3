package hosting

import (
	"strings"
	"testing"
)

func TestToken_Default(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	tok, err := Token(Config{}, "GITHUB_TOKEN")
	if err != nil {
		t.Fatal(err)
	}
	if tok != "ghp_test" {
		t.Errorf("token = %q", tok)
	}
}

func TestToken_Override(t *testing.T) {
	t.Setenv("CORP_GH_TOKEN", "ghp_corp")
	tok, err := Token(Config{TokenEnvVar: "CORP_GH_TOKEN"}, "GITHUB_TOKEN")
	if err != nil {
		t.Fatal(err)
	}
	if tok != "ghp_corp" {
		t.Errorf("token = %q", tok)
	}
}

func TestToken_Missing(t *testing.T) {
	t.Setenv("GITLAB_TOKEN", "")
	_, err := Token(Config{}, "GITLAB_TOKEN")
	if err == nil || !strings.Contains(err.Error(), "GITLAB_TOKEN") {
		t.Fatalf("err = %v", err)
	}
}
