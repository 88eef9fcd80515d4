package hunt

import (
	"testing"

	"github.com/casehound/casehound/internal/domain"
)

func minimalFactory(name string) Factory {
	return func() domain.HuntDefinition {
		return domain.HuntDefinition{
			Name:    name,
			Version: "1.0.0",
			Steps:   []domain.HuntStepDefinition{{StepID: "a", PluginName: "p"}},
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(minimalFactory("one")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(minimalFactory("one")); err == nil {
		t.Fatal("expected duplicate rejection")
	}
}

func TestRegistryRejectsInvalidDefinition(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(func() domain.HuntDefinition {
		return domain.HuntDefinition{Name: "broken", Version: "1.0.0"}
	})
	if err == nil {
		t.Fatal("expected validation failure for definition without steps")
	}
}

func TestRegistryGetReturnsFreshCopy(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(minimalFactory("one")); err != nil {
		t.Fatalf("register: %v", err)
	}
	first, _ := registry.Get("one")
	first.Steps[0].StepID = "mutated"
	second, _ := registry.Get("one")
	if second.Steps[0].StepID != "a" {
		t.Fatal("registry returned shared state")
	}
}

func TestDefaultRegistryCatalogIsValid(t *testing.T) {
	registry, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	defs := registry.List()
	if len(defs) == 0 {
		t.Fatal("catalog is empty")
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			t.Fatalf("%s: %v", def.Name, err)
		}
		if _, err := def.TopologicalOrder(); err != nil {
			t.Fatalf("%s: %v", def.Name, err)
		}
	}
	if _, ok := registry.Get("domain-recon"); !ok {
		t.Fatal("domain-recon missing from catalog")
	}
}
