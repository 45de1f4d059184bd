package runtime

import "testing"

type stubHandler struct {
	jobType string
}

func (h stubHandler) Type() string           { return h.jobType }
func (h stubHandler) Run(ctx *Context) error { return nil }

func TestRegistryRejectsNilHandler(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(nil); err == nil {
		t.Fatal("expected error registering nil handler")
	}
}

func TestRegistryRejectsEmptyType(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(stubHandler{jobType: ""}); err == nil {
		t.Fatal("expected error registering handler with empty Type()")
	}
}

func TestRegistryRejectsDuplicateType(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(stubHandler{jobType: "scrape"}); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	if err := reg.Register(stubHandler{jobType: "scrape"}); err == nil {
		t.Fatal("expected error registering duplicate job_type")
	}
}

func TestRegistryGetReturnsRegisteredHandler(t *testing.T) {
	reg := NewRegistry()
	h := stubHandler{jobType: "deduplicate"}
	if err := reg.Register(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := reg.Get("deduplicate")
	if !ok {
		t.Fatal("expected handler to be found")
	}
	if got.Type() != "deduplicate" {
		t.Fatalf("got handler for type %q, want deduplicate", got.Type())
	}
}

func TestRegistryGetMissReturnsFalse(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Get("nonexistent"); ok {
		t.Fatal("expected miss for unregistered job_type")
	}
}
