package core_test

import (
	"testing"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/marina/core"
)

func TestPlural(t *testing.T) {
	cases := map[string]string{
		"boat":     "boats",
		"load":     "loads",
		"user":     "users",
		"ferry":    "ferries",
		"snapshot": "snapshots",
	}
	for singular, plural := range cases {
		if got := core.Plural(singular); got != plural {
			t.Errorf("Plural(%s): got %s, want %s", singular, got, plural)
		}
	}
}

func TestOperationUnmarshal(t *testing.T) {
	var op core.Operation
	if err := json.Unmarshal([]byte(`"update"`), &op); err != nil {
		t.Fatal(err)
	}
	if op != core.OperationUpdate {
		t.Fatalf("got %s", op)
	}
	if err := json.Unmarshal([]byte(`"purge"`), &op); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}
