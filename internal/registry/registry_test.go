package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrSnakeDoc/wakegate/internal/domain"
)

func testServices() []*domain.ServiceConfig {
	return []*domain.ServiceConfig{
		{ID: "nas", Hostname: "nas.home.lan", Source: "configs/nas.yml"},
		{ID: "jellyfin", Hostname: "jellyfin.local", Source: "configs/jellyfin.yml"},
		{ID: "gitea", Hostname: "git.home.lan", Source: "configs/gitea.yml"},
	}
}

func TestRegistryResolve(t *testing.T) {
	r, err := New(testServices())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name     string
		hostname string
		wantID   string
		wantOK   bool
	}{
		{"exact", "jellyfin.local", "jellyfin", true},
		{"with port", "jellyfin.local:8096", "jellyfin", true},
		{"uppercase", "GIT.Home.Lan", "gitea", true},
		{"trailing dot", "nas.home.lan.", "nas", true},
		{"unknown", "invalid.host.com", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ok := r.Resolve(tt.hostname)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.hostname, ok, tt.wantOK)
			}
			if ok && svc.ID != tt.wantID {
				t.Errorf("Resolve(%q) = %s, want %s", tt.hostname, svc.ID, tt.wantID)
			}
		})
	}
}

func TestRegistryAllSortedAndCopied(t *testing.T) {
	r, err := New(testServices())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	all := r.All()
	if len(all) != 3 || r.Count() != 3 {
		t.Fatalf("expected 3 services, got %d (Count=%d)", len(all), r.Count())
	}

	want := []string{"gitea", "jellyfin", "nas"}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("All()[%d] = %s, want %s", i, all[i].ID, id)
		}
	}

	// Mutating the returned slice must not affect the registry.
	all[0] = nil
	if r.All()[0] == nil {
		t.Error("All() returned the internal slice")
	}

	if _, ok := r.Get("nas"); !ok {
		t.Error("Get(nas) not found")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should not be found")
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	services := append(testServices(), &domain.ServiceConfig{
		ID: "nas", Hostname: "other.home.lan", Source: "configs/nas.yaml",
	})

	_, err := New(services)
	if err == nil {
		t.Fatal("New() with duplicate ID should fail")
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("error should wrap ErrConfiguration, got %v", err)
	}
}

func TestRegistryDuplicateHostname(t *testing.T) {
	services := append(testServices(), &domain.ServiceConfig{
		ID: "jellyfin2", Hostname: "JELLYFIN.local", Source: "configs/jellyfin2.yml",
	})

	_, err := New(services)
	if err == nil {
		t.Fatal("New() with duplicate hostname should fail")
	}

	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type = %T, want *domain.ConfigError", err)
	}
	if cfgErr.Field != "APP_URL" {
		t.Errorf("ConfigError.Field = %q, want APP_URL", cfgErr.Field)
	}
}

func TestRegistryConcurrentResolve(t *testing.T) {
	r, err := New(testServices())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Resolve("jellyfin.local"); !ok {
				t.Error("Resolve failed under concurrency")
			}
		}()
	}
	wg.Wait()
}
