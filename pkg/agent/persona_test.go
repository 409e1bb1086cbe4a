package agent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const johnPersona = `---
name: john
role: Product Manager
capabilities:
  - prd
  - requirements
---

# John

You are John, a pragmatic product manager. You write PRDs with numbered
functional requirements and measurable success criteria.
`

func TestParsePersonaWithFrontmatter(t *testing.T) {
	p, err := ParsePersona(johnPersona)
	if err != nil {
		t.Fatalf("ParsePersona() error = %v", err)
	}
	if p.Name != "john" {
		t.Errorf("name = %q", p.Name)
	}
	if p.Role != "Product Manager" {
		t.Errorf("role = %q", p.Role)
	}
	if len(p.Capabilities) != 2 {
		t.Errorf("capabilities = %v", p.Capabilities)
	}
	if p.Body == "" || p.Body[0] != '#' {
		t.Errorf("body = %q, want markdown starting at heading", p.Body)
	}
}

func TestParsePersonaWithoutFrontmatter(t *testing.T) {
	p, err := ParsePersona("You are Winston, a systems architect.")
	if err != nil {
		t.Fatalf("ParsePersona() error = %v", err)
	}
	if p.Body != "You are Winston, a systems architect." {
		t.Errorf("body = %q", p.Body)
	}
}

func TestParsePersonaEmptyBody(t *testing.T) {
	if _, err := ParsePersona("---\nname: ghost\n---\n"); err == nil {
		t.Error("persona with empty body should fail")
	}
}

func TestLoadPersona(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bmad", "bmm", "agents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "john.md"), []byte(johnPersona), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPersona(root, "john")
	if err != nil {
		t.Fatalf("LoadPersona() error = %v", err)
	}
	if p.Role != "Product Manager" {
		t.Errorf("role = %q", p.Role)
	}
}

func TestLoadPersonaDefaultsName(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bmad", "bmm", "agents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mary.md"), []byte("You are Mary, a business analyst."), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPersona(root, "mary")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "mary" {
		t.Errorf("name = %q, want mary", p.Name)
	}
}

func TestLoadPersonaNotFound(t *testing.T) {
	_, err := LoadPersona(t.TempDir(), "nobody")
	if !errors.Is(err, ErrPersonaNotFound) {
		t.Errorf("error = %v, want ErrPersonaNotFound", err)
	}
}
