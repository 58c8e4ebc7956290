package rules

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/veilgate/veilgate/internal/logger"
)

func writeRuleset(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "ruleset.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeList(t *testing.T, dir, name, content string) {
	t.Helper()
	listsDir := filepath.Join(dir, "lists")
	if err := os.MkdirAll(listsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(listsDir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCompile(t *testing.T) {
	t.Run("full ruleset", func(t *testing.T) {
		dir := t.TempDir()
		writeList(t, dir, "names.txt", "John Smith\nJane Doe\n")
		path := writeRuleset(t, dir, `
version: 3
never_reconcile_categories: [PII, secret]
reconcile_policy:
  BRAND: conditional
rules:
  - id: email
    category: PII
    action: tokenize
    priority: 200
    pattern: '[a-z0-9._%+-]+@[a-z0-9.-]+'
lists:
  - id: names
    source: lists/names.txt
    category: NAMES
    action: tokenize
    include_reversed_word_order: true
`)

		rs, err := Compile(path, dir)
		if err != nil {
			t.Fatal(err)
		}
		if rs.Version != 3 {
			t.Errorf("version = %d, want 3", rs.Version)
		}
		total, lists := rs.RuleCount()
		if total != 2 || lists != 1 {
			t.Errorf("counts = (%d, %d), want (2, 1)", total, lists)
		}
		if _, ok := rs.NeverReconcile["PII"]; !ok {
			t.Error("PII missing from never-reconcile set")
		}
		if _, ok := rs.NeverReconcile["SECRET"]; !ok {
			t.Error("lowercase category not normalized into never-reconcile set")
		}
		if rs.PolicyFor("BRAND") != PolicyConditional {
			t.Errorf("BRAND policy = %v, want conditional", rs.PolicyFor("BRAND"))
		}
		if rs.PolicyFor("PII") != PolicyNever {
			t.Error("never-reconcile set must override policy lookup")
		}
		if rs.PolicyFor("UNLISTED") != PolicyAlways {
			t.Error("unlisted category should default to always")
		}
	})

	t.Run("patterns are case insensitive by default", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRuleset(t, dir, `
rules:
  - id: word
    category: GENERIC
    pattern: 'confidential'
  - id: strict
    category: GENERIC
    case_sensitive: true
    pattern: 'Confidential'
`)
		rs, err := Compile(path, dir)
		if err != nil {
			t.Fatal(err)
		}
		if !rs.Rules[0].Pattern.MatchString("CONFIDENTIAL") {
			t.Error("default rule should match case-insensitively")
		}
		if rs.Rules[1].Pattern.MatchString("CONFIDENTIAL") {
			t.Error("case_sensitive rule matched the wrong case")
		}
	})

	t.Run("invalid regex fails compile", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRuleset(t, dir, `
rules:
  - id: broken
    category: PII
    pattern: '([unclosed'
`)
		_, err := Compile(path, dir)
		if err == nil {
			t.Fatal("expected compile failure")
		}
		var ce *CompileError
		if !errors.As(err, &ce) {
			t.Fatalf("error type = %T, want *CompileError", err)
		}
		if ce.RuleID != "broken" {
			t.Errorf("rule id = %q", ce.RuleID)
		}
	})

	t.Run("duplicate rule id rejected", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRuleset(t, dir, `
rules:
  - id: dup
    category: A
    pattern: 'a'
  - id: dup
    category: B
    pattern: 'b'
`)
		if _, err := Compile(path, dir); err == nil {
			t.Fatal("expected duplicate id failure")
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRuleset(t, dir, "version: 1\nsurprise: true\n")
		if _, err := Compile(path, dir); err == nil {
			t.Fatal("expected unknown field failure")
		}
	})

	t.Run("missing list source fails", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRuleset(t, dir, `
lists:
  - id: ghosts
    source: lists/missing.txt
    category: NAMES
`)
		_, err := Compile(path, dir)
		if err == nil {
			t.Fatal("expected list load failure")
		}
		var le *ListLoadError
		if !errors.As(err, &le) {
			t.Fatalf("error type = %T, want *ListLoadError", err)
		}
	})

	t.Run("undeclared list files auto-bind", func(t *testing.T) {
		dir := t.TempDir()
		writeList(t, dir, "projects.txt", "Project Borealis\n")
		path := writeRuleset(t, dir, "version: 1\n")

		rs, err := Compile(path, dir)
		if err != nil {
			t.Fatal(err)
		}
		total, lists := rs.RuleCount()
		if total != 1 || lists != 1 {
			t.Fatalf("counts = (%d, %d), want (1, 1)", total, lists)
		}
		rule := rs.Rules[0]
		if rule.ID != "auto_projects" {
			t.Errorf("auto-bound rule id = %q", rule.ID)
		}
		if rule.Category != "BUSINESS" {
			t.Errorf("auto-bound category = %q, want BUSINESS", rule.Category)
		}
		if rule.Action != ActionTokenize {
			t.Errorf("auto-bound action = %v, want tokenize", rule.Action)
		}
	})

	t.Run("declared lists are not double bound", func(t *testing.T) {
		dir := t.TempDir()
		writeList(t, dir, "names.txt", "Jane Doe\n")
		path := writeRuleset(t, dir, `
lists:
  - id: names
    source: lists/names.txt
    category: NAMES
`)
		rs, err := Compile(path, dir)
		if err != nil {
			t.Fatal(err)
		}
		if total, _ := rs.RuleCount(); total != 1 {
			t.Errorf("total rules = %d, want 1", total)
		}
	})

	t.Run("global mode applies to rules without one", func(t *testing.T) {
		dir := t.TempDir()
		path := writeRuleset(t, dir, `
mode: report_only
rules:
  - id: soft
    category: A
    pattern: 'a'
  - id: hard
    category: B
    mode: enforce
    pattern: 'b'
`)
		rs, err := Compile(path, dir)
		if err != nil {
			t.Fatal(err)
		}
		if rs.Rules[0].Mode != ModeReportOnly {
			t.Error("rule without mode should inherit the global mode")
		}
		if rs.Rules[1].Mode != ModeEnforce {
			t.Error("explicit rule mode should override the global mode")
		}
	})
}

func TestLoadTerms(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("txt skips comments and blanks", func(t *testing.T) {
		path := write("terms.txt", "# people\nJohn Smith\n\n  Jane Doe  \n")
		terms, err := LoadTerms(path)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"John Smith", "Jane Doe"}
		if !reflect.DeepEqual(terms, want) {
			t.Errorf("terms = %v, want %v", terms, want)
		}
	})

	t.Run("csv takes every cell", func(t *testing.T) {
		path := write("terms.csv", "Acme Corp,Acme Corporation\nInitech\n")
		terms, err := LoadTerms(path)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"Acme Corp", "Acme Corporation", "Initech"}
		if !reflect.DeepEqual(terms, want) {
			t.Errorf("terms = %v, want %v", terms, want)
		}
	})

	t.Run("yaml array", func(t *testing.T) {
		path := write("terms.yaml", "- Project Borealis\n- Northwind Migration\n")
		terms, err := LoadTerms(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(terms) != 2 {
			t.Errorf("terms = %v", terms)
		}
	})

	t.Run("yaml terms mapping", func(t *testing.T) {
		path := write("doc.yml", "terms:\n  - Project Borealis\n")
		terms, err := LoadTerms(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(terms) != 1 || terms[0] != "Project Borealis" {
			t.Errorf("terms = %v", terms)
		}
	})

	t.Run("json array", func(t *testing.T) {
		path := write("terms.json", `["Acme Corp", "Initech"]`)
		terms, err := LoadTerms(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(terms) != 2 {
			t.Errorf("terms = %v", terms)
		}
	})

	t.Run("dedup keeps first spelling", func(t *testing.T) {
		path := write("dup.txt", "Acme Corp\nACME CORP\nacme corp\n")
		terms, err := LoadTerms(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(terms) != 1 || terms[0] != "Acme Corp" {
			t.Errorf("terms = %v, want [Acme Corp]", terms)
		}
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := write("terms.xml", "<terms/>")
		if _, err := LoadTerms(path); err == nil {
			t.Fatal("expected unsupported format error")
		}
	})
}

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]string{
		"pii":           "PII",
		"Credit Cards":  "CREDIT_CARDS",
		"  internal--x": "INTERNAL_X",
		"___":           "GENERIC",
		"":              "GENERIC",
	}
	for in, want := range cases {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProviderReload(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := writeRuleset(t, dir, `
rules:
  - id: email
    category: PII
    pattern: '[a-z]+@[a-z]+\.[a-z]+'
`)

	provider, err := NewProvider(path, dir, log)
	if err != nil {
		t.Fatal(err)
	}

	before := provider.Current()
	if total, _ := before.RuleCount(); total != 1 {
		t.Fatalf("initial rule count = %d, want 1", total)
	}

	t.Run("failed reload keeps previous snapshot", func(t *testing.T) {
		writeRuleset(t, dir, `
rules:
  - id: broken
    category: PII
    pattern: '([unclosed'
`)
		if err := provider.Reload(); err == nil {
			t.Fatal("expected reload failure")
		}
		if provider.Current() != before {
			t.Error("failed reload must leave the previous snapshot active")
		}
	})

	t.Run("successful reload swaps the snapshot", func(t *testing.T) {
		writeRuleset(t, dir, `
version: 2
rules:
  - id: email
    category: PII
    pattern: '[a-z]+@[a-z]+\.[a-z]+'
  - id: phone
    category: PII
    pattern: '\d{3}-\d{4}'
`)
		if err := provider.Reload(); err != nil {
			t.Fatal(err)
		}
		after := provider.Current()
		if after == before {
			t.Fatal("snapshot pointer did not change")
		}
		if total, _ := after.RuleCount(); total != 2 {
			t.Errorf("rule count = %d, want 2", total)
		}
		if after.Version != 2 {
			t.Errorf("version = %d, want 2", after.Version)
		}
	})

	t.Run("validate does not publish", func(t *testing.T) {
		current := provider.Current()
		total, lists, err := provider.Validate()
		if err != nil {
			t.Fatal(err)
		}
		if total != 2 || lists != 0 {
			t.Errorf("validate counts = (%d, %d)", total, lists)
		}
		if provider.Current() != current {
			t.Error("validate must not swap the active snapshot")
		}
	})
}
