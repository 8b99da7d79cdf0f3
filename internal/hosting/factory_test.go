package hosting

import (
	"strings"
	"testing"
)

type stubProvider struct {
	Provider
	pt ProviderType
}

func (s stubProvider) Name() ProviderType { return s.pt }

func registerStub(t *testing.T, pt ProviderType) {
	t.Helper()
	prev, had := constructors[pt]
	constructors[pt] = func(remoteURL string, cfg Config) (Provider, error) {
		return stubProvider{pt: pt}, nil
	}
	t.Cleanup(func() {
		if had {
			constructors[pt] = prev
		} else {
			delete(constructors, pt)
		}
	})
}

func TestNew_AutoDetect(t *testing.T) {
	registerStub(t, ProviderGitHub)

	p, err := New("git@github.com:acme/app.git", Config{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != ProviderGitHub {
		t.Errorf("provider = %s", p.Name())
	}
}

func TestNew_ExplicitProvider(t *testing.T) {
	registerStub(t, ProviderGitLab)

	// An explicit provider wins over what the URL looks like.
	p, err := New("https://github.example.com/acme/app.git", Config{Provider: "gitlab"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != ProviderGitLab {
		t.Errorf("provider = %s", p.Name())
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New("https://github.com/acme/app.git", Config{Provider: "sourcehut"})
	if err == nil || !strings.Contains(err.Error(), "unknown hosting provider") {
		t.Fatalf("err = %v", err)
	}
}

func TestNew_UndetectableRemote(t *testing.T) {
	_, err := New("https://bitbucket.org/acme/app.git", Config{})
	if err == nil || !strings.Contains(err.Error(), "cannot detect") {
		t.Fatalf("err = %v", err)
	}
}

func TestNew_NothingRegistered(t *testing.T) {
	prev := constructors
	constructors = map[ProviderType]Constructor{}
	t.Cleanup(func() { constructors = prev })

	_, err := New("git@github.com:acme/app.git", Config{})
	if err == nil || !strings.Contains(err.Error(), "no hosting provider registered") {
		t.Fatalf("err = %v", err)
	}
}
