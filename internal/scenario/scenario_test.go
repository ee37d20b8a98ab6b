package scenario

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/kthreads/pkg/model"
)

func TestLoad_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no scenarios in testdata")
	}
	for _, p := range paths {
		t.Run(filepath.Base(p), func(t *testing.T) {
			sc, err := Load(p)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if sc.Name == "" {
				t.Error("scenario has no name")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("testdata/does-not-exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_Defaults(t *testing.T) {
	sc, err := Parse([]byte(`
name: defaults
threads:
  - name: worker
    actions:
      - {op: compute, ticks: 3}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := sc.Threads[0].EffectivePriority(); got != 31 {
		t.Errorf("EffectivePriority() = %d, want 31", got)
	}
	if sc.Threads[0].Actions[0].Op != OpCompute || sc.Threads[0].Actions[0].Ticks != 3 {
		t.Errorf("action = %+v", sc.Threads[0].Actions[0])
	}
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unterminated"))
	if err == nil || !strings.Contains(err.Error(), "parse yaml") {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantField string
	}{
		{
			name:      "missing name",
			doc:       "threads: []",
			wantField: "name",
		},
		{
			name: "reserved thread name",
			doc: `
name: x
threads:
  - name: idle
    actions: []`,
			wantField: "threads[0].name",
		},
		{
			name: "duplicate thread",
			doc: `
name: x
threads:
  - {name: a, actions: []}
  - {name: a, actions: []}`,
			wantField: "threads[1].name",
		},
		{
			name: "priority out of range",
			doc: `
name: x
threads:
  - {name: a, priority: 64, actions: []}`,
			wantField: "threads[0].priority",
		},
		{
			name: "unknown lock",
			doc: `
name: x
main:
  - {op: acquire, lock: missing}`,
			wantField: "main[0].lock",
		},
		{
			name: "unknown semaphore",
			doc: `
name: x
main:
  - {op: up, sema: missing}`,
			wantField: "main[0].sema",
		},
		{
			name: "wait needs cond",
			doc: `
name: x
locks: [l]
main:
  - {op: wait, lock: l, cond: missing}`,
			wantField: "main[0].cond",
		},
		{
			name: "non-positive compute",
			doc: `
name: x
main:
  - {op: compute}`,
			wantField: "main[0].ticks",
		},
		{
			name: "create boot thread",
			doc: `
name: x
threads:
  - {name: a, actions: []}
main:
  - {op: create, thread: a}`,
			wantField: "main[0].thread",
		},
		{
			name: "unknown op",
			doc: `
name: x
main:
  - {op: teleport}`,
			wantField: "main[0].op",
		},
		{
			name: "negative semaphore",
			doc: `
name: x
semaphores: {s: -1}`,
			wantField: "semaphores.s",
		},
		{
			name: "nice out of range",
			doc: `
name: x
main:
  - {op: set_nice, nice: 21}`,
			wantField: "main[0].nice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected validation error")
			}
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %T, want *model.APIError", err)
			}
			if apiErr.Code != model.ErrValidation {
				t.Errorf("code = %s, want %s", apiErr.Code, model.ErrValidation)
			}
			for _, d := range apiErr.Details {
				if d.Field == tt.wantField {
					return
				}
			}
			t.Errorf("details %+v do not mention %s", apiErr.Details, tt.wantField)
		})
	}
}
