package adapter

import (
	"context"
	"testing"
)

type fakeAdapter struct {
	name      string
	available bool
}

func (f *fakeAdapter) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Result, error) {
	return &Result{Content: "ok"}, nil
}

func (f *fakeAdapter) Chat(ctx context.Context, messages []ChatMessage) (*Result, error) {
	return &Result{Content: "ok"}, nil
}

func (f *fakeAdapter) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (*Result, error) {
	return nil, errUnsupported
}

func (f *fakeAdapter) Available() bool { return f.available }
func (f *fakeAdapter) Name() string    { return f.name }

var errUnsupported = fakeErr("tool calls are not supported by this backend")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func TestRegistry_FirstRegisteredBecomesDefault(t *testing.T) {
	r := NewRegistry()
	r.Register("anthropic", &fakeAdapter{name: "anthropic", available: true})
	r.Register("bedrock", &fakeAdapter{name: "bedrock", available: true})

	def, err := r.Default()
	if err != nil {
		t.Fatal(err)
	}
	if def.Name() != "anthropic" {
		t.Fatalf("expected the first registered adapter as default, got %s", def.Name())
	}
}

func TestRegistry_SetDefaultSwitchesDefault(t *testing.T) {
	r := NewRegistry()
	r.Register("anthropic", &fakeAdapter{name: "anthropic"})
	r.Register("bedrock", &fakeAdapter{name: "bedrock"})

	if err := r.SetDefault("bedrock"); err != nil {
		t.Fatal(err)
	}
	def, err := r.Default()
	if err != nil {
		t.Fatal(err)
	}
	if def.Name() != "bedrock" {
		t.Fatalf("expected bedrock as default, got %s", def.Name())
	}
}

func TestRegistry_SetDefaultRejectsUnknownName(t *testing.T) {
	r := NewRegistry()
	r.Register("anthropic", &fakeAdapter{name: "anthropic"})
	if err := r.SetDefault("nonexistent"); err == nil {
		t.Fatal("expected an error when setting default to an unregistered adapter")
	}
}

func TestRegistry_GetUnregisteredFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("missing"); err == nil {
		t.Fatal("expected an error for an unregistered adapter name")
	}
}

func TestRegistry_DefaultFailsWhenEmpty(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Default(); err == nil {
		t.Fatal("expected an error when no adapter has been registered")
	}
}

func TestRegistry_NamesListsEveryRegisteredAdapter(t *testing.T) {
	r := NewRegistry()
	r.Register("anthropic", &fakeAdapter{name: "anthropic"})
	r.Register("bedrock", &fakeAdapter{name: "bedrock"})

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 registered names, got %d", len(names))
	}
}
