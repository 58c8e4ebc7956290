package rules

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CompileError reports a rule that failed validation or pattern compilation.
type CompileError struct {
	RuleID string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.RuleID, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// ListLoadError reports a list file that could not be loaded.
type ListLoadError struct {
	File string
	Err  error
}

func (e *ListLoadError) Error() string {
	return fmt.Sprintf("list %q: %v", e.File, e.Err)
}

func (e *ListLoadError) Unwrap() error { return e.Err }

// rulesetDoc is the on-disk ruleset schema. Unknown fields are rejected.
type rulesetDoc struct {
	Version                  int               `yaml:"version"`
	Mode                     string            `yaml:"mode"`
	NeverReconcileCategories []string          `yaml:"never_reconcile_categories"`
	ReconcilePolicy          map[string]string `yaml:"reconcile_policy"`
	Rules                    []ruleDoc         `yaml:"rules"`
	Lists                    []listDoc         `yaml:"lists"`
}

type ruleDoc struct {
	ID            string `yaml:"id"`
	Category      string `yaml:"category"`
	Action        string `yaml:"action"`
	Mode          string `yaml:"mode"`
	Priority      *int   `yaml:"priority"`
	CaseSensitive bool   `yaml:"case_sensitive"`
	Pattern       string `yaml:"pattern"`
	Replacement   string `yaml:"replacement"`
}

type listDoc struct {
	ID            string `yaml:"id"`
	Source        string `yaml:"source"`
	Category      string `yaml:"category"`
	Action        string `yaml:"action"`
	Mode          string `yaml:"mode"`
	Priority      *int   `yaml:"priority"`
	ReversedOrder bool   `yaml:"include_reversed_word_order"`
}

const (
	defaultPriority = 100

	// Defaults for list files present in <dir>/lists but not declared in the
	// ruleset. Tokenize is the safe default: reversible, nothing leaves in clear.
	autoBindCategory = "BUSINESS"
	autoBindPriority = 90
)

// Compile parses the ruleset file, loads and compiles every referenced list,
// and auto-binds undeclared list files found under <dir>/lists. It is pure:
// the currently active Ruleset is never touched.
func Compile(rulesetFile, dir string) (*Ruleset, error) {
	raw, err := os.ReadFile(rulesetFile)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var doc rulesetDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse ruleset: %w", err)
	}

	globalMode := doc.Mode
	rs := &Ruleset{
		Version:         doc.Version,
		NeverReconcile:  make(map[string]struct{}),
		ReconcilePolicy: make(map[string]Policy),
	}
	if rs.Version == 0 {
		rs.Version = 1
	}
	for _, cat := range doc.NeverReconcileCategories {
		rs.NeverReconcile[NormalizeCategory(cat)] = struct{}{}
	}
	for cat, raw := range doc.ReconcilePolicy {
		p, err := ParsePolicy(raw)
		if err != nil {
			return nil, fmt.Errorf("reconcile_policy[%s]: %w", cat, err)
		}
		rs.ReconcilePolicy[NormalizeCategory(cat)] = p
	}

	seen := make(map[string]struct{})
	addRule := func(r *Rule) error {
		if _, dup := seen[r.ID]; dup {
			return &CompileError{RuleID: r.ID, Err: fmt.Errorf("duplicate rule id")}
		}
		seen[r.ID] = struct{}{}
		rs.Rules = append(rs.Rules, r)
		return nil
	}

	for i, rd := range doc.Rules {
		rule, err := compileRegexRule(rd, globalMode, i)
		if err != nil {
			return nil, err
		}
		if err := addRule(rule); err != nil {
			return nil, err
		}
	}

	declared := make(map[string]struct{})
	for _, ld := range doc.Lists {
		if ld.Source == "" {
			return nil, &CompileError{RuleID: ld.ID, Err: fmt.Errorf("list rule missing source")}
		}
		declared[filepath.ToSlash(ld.Source)] = struct{}{}

		rule, err := compileListRule(ld, globalMode, dir)
		if err != nil {
			return nil, err
		}
		if err := addRule(rule); err != nil {
			return nil, err
		}
	}

	autoRules, err := autoBindLists(dir, declared, globalMode)
	if err != nil {
		return nil, err
	}
	for _, rule := range autoRules {
		if err := addRule(rule); err != nil {
			return nil, err
		}
	}

	return rs, nil
}

func compileRegexRule(rd ruleDoc, globalMode string, index int) (*Rule, error) {
	id := rd.ID
	if id == "" {
		id = fmt.Sprintf("rule_%d", index+1)
	}
	if rd.Pattern == "" {
		return nil, &CompileError{RuleID: id, Err: fmt.Errorf("regex rule missing pattern")}
	}

	action, mode, priority, err := commonAttrs(id, rd.Action, rd.Mode, globalMode, rd.Priority)
	if err != nil {
		return nil, err
	}

	pattern := rd.Pattern
	if !rd.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &CompileError{RuleID: id, Err: fmt.Errorf("invalid pattern: %w", err)}
	}

	return &Rule{
		ID:            id,
		Category:      NormalizeCategory(rd.Category),
		Action:        action,
		Mode:          mode,
		Priority:      priority,
		CaseSensitive: rd.CaseSensitive,
		Replacement:   rd.Replacement,
		Pattern:       re,
	}, nil
}

func compileListRule(ld listDoc, globalMode, dir string) (*Rule, error) {
	source := filepath.Join(dir, filepath.FromSlash(ld.Source))
	id := ld.ID
	if id == "" {
		base := filepath.Base(ld.Source)
		id = "list_" + strings.TrimSuffix(base, filepath.Ext(base))
	}

	action, mode, priority, err := commonAttrs(id, ld.Action, ld.Mode, globalMode, ld.Priority)
	if err != nil {
		return nil, err
	}

	terms, err := LoadTerms(source)
	if err != nil {
		return nil, err
	}

	category := ld.Category
	if category == "" {
		category = autoBindCategory
	}

	return &Rule{
		ID:       id,
		Category: NormalizeCategory(category),
		Action:   action,
		Mode:     mode,
		Priority: priority,
		List:     BuildList(id, terms, ld.ReversedOrder),
	}, nil
}

// autoBindLists turns every supported list file under <dir>/lists that the
// ruleset did not declare into a list rule with safe defaults.
func autoBindLists(dir string, declared map[string]struct{}, globalMode string) ([]*Rule, error) {
	listsDir := filepath.Join(dir, "lists")
	entries, err := os.ReadDir(listsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lists dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []*Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".csv" && ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		rel := "lists/" + entry.Name()
		if _, ok := declared[rel]; ok {
			continue
		}

		terms, err := LoadTerms(filepath.Join(listsDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			continue
		}

		id := "auto_" + strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		mode, err := ParseMode(globalMode)
		if err != nil {
			return nil, &CompileError{RuleID: id, Err: err}
		}
		out = append(out, &Rule{
			ID:       id,
			Category: autoBindCategory,
			Action:   ActionTokenize,
			Mode:     mode,
			Priority: autoBindPriority,
			List:     BuildList(id, terms, false),
		})
	}
	return out, nil
}

func commonAttrs(id, action, mode, globalMode string, priority *int) (Action, Mode, int, error) {
	a, err := ParseAction(action)
	if err != nil {
		return 0, 0, 0, &CompileError{RuleID: id, Err: err}
	}
	if mode == "" {
		mode = globalMode
	}
	m, err := ParseMode(mode)
	if err != nil {
		return 0, 0, 0, &CompileError{RuleID: id, Err: err}
	}
	p := defaultPriority
	if priority != nil {
		p = *priority
	}
	return a, m, p, nil
}

// LoadTerms reads a term list file. Plain .txt files hold one term per line
// with #-comments; .csv rows contribute every non-empty cell; .json and .yaml
// files hold either an array of terms or a mapping with a "terms" array.
// Entries are deduplicated case-insensitively, first spelling wins.
func LoadTerms(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ListLoadError{File: path, Err: err}
	}

	var terms []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		for _, line := range strings.Split(string(raw), "\n") {
			value := strings.TrimSpace(line)
			if value != "" && !strings.HasPrefix(value, "#") {
				terms = append(terms, value)
			}
		}
	case ".csv":
		reader := csv.NewReader(bytes.NewReader(raw))
		reader.FieldsPerRecord = -1
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, &ListLoadError{File: path, Err: err}
		}
		for _, row := range rows {
			for _, cell := range row {
				if value := strings.TrimSpace(cell); value != "" {
					terms = append(terms, value)
				}
			}
		}
	case ".json", ".yaml", ".yml":
		var asList []string
		if err := yaml.Unmarshal(raw, &asList); err == nil {
			terms = asList
			break
		}
		var asDoc struct {
			Terms []string `yaml:"terms"`
		}
		if err := yaml.Unmarshal(raw, &asDoc); err != nil {
			return nil, &ListLoadError{File: path, Err: err}
		}
		terms = asDoc.Terms
	default:
		return nil, &ListLoadError{File: path, Err: fmt.Errorf("unsupported list format %q", filepath.Ext(path))}
	}

	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, term := range terms {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, term)
	}
	return out, nil
}
