package template

import "testing"

func TestSubstRender(t *testing.T) {
	values := map[string]any{
		"editor":   "vim",
		"packages": []any{"curl", "git"},
	}

	got, err := Subst{}.Render([]byte("EDITOR={{editor}} PKGS={{ packages }}"), values)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "EDITOR=vim PKGS=curl git"
	if string(got) != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestSubstLeavesUnknownKeys(t *testing.T) {
	got, err := Subst{}.Render([]byte("{{mystery}}"), map[string]any{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(got) != "{{mystery}}" {
		t.Errorf("unknown key should stay untouched, got %q", got)
	}
}
