package templates

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// predicateEnv is the environment a custom validation expression sees.
//
//	value: the normalized value (float64, bool, time.Time or string)
//	raw:   the value exactly as found in the context
//	name:  the variable name
type predicateEnv struct {
	Value interface{} `expr:"value"`
	Raw   interface{} `expr:"raw"`
	Name  string      `expr:"name"`
}

// predicates caches compiled custom expressions by source.
type predicates struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func newPredicates() *predicates {
	return &predicates{programs: make(map[string]*vm.Program)}
}

func (p *predicates) compile(code string) (*vm.Program, error) {
	p.mu.RLock()
	prog, ok := p.programs[code]
	p.mu.RUnlock()
	if ok {
		return prog, nil
	}
	prog, err := expr.Compile(code, expr.Env(predicateEnv{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.programs[code] = prog
	p.mu.Unlock()
	return prog, nil
}

// validateDraft collects every structural problem in a template draft.
func (p *predicates) validateDraft(d models.TemplateDraft) error {
	var issues []string
	if strings.TrimSpace(d.Name) == "" {
		issues = append(issues, "name is required")
	}
	if strings.TrimSpace(d.Content) == "" {
		issues = append(issues, "content is required")
	}
	if d.Category != "" && !d.Category.Valid() {
		issues = append(issues, fmt.Sprintf("unknown category %q", d.Category))
	}

	declared := make(map[string]bool, len(d.Variables))
	for i, v := range d.Variables {
		if strings.TrimSpace(v.Name) == "" {
			issues = append(issues, fmt.Sprintf("variable %d has no name", i))
			continue
		}
		if declared[v.Name] {
			issues = append(issues, fmt.Sprintf("duplicate variable %q", v.Name))
		}
		declared[v.Name] = true
		issues = append(issues, p.validateVariable(v)...)
	}

	for _, text := range []string{d.Subject, d.Content} {
		for _, name := range ExtractPlaceholders(text) {
			if name == "" {
				issues = append(issues, "empty placeholder {{ }}")
				continue
			}
			if !declared[name] {
				issues = append(issues, fmt.Sprintf("placeholder {{%s}} is not declared", name))
			}
		}
	}

	if len(issues) > 0 {
		return &models.ValidationError{Issues: issues}
	}
	return nil
}

func (p *predicates) validateVariable(v models.TemplateVariable) []string {
	var issues []string
	switch v.Type {
	case models.VarString, models.VarNumber, models.VarDate, models.VarBoolean:
	case models.VarSelect:
		if len(v.Options) == 0 {
			issues = append(issues, fmt.Sprintf("select variable %q has no options", v.Name))
		}
	default:
		issues = append(issues, fmt.Sprintf("variable %q has unknown type %q", v.Name, v.Type))
	}
	if rule := v.Validation; rule != nil {
		if rule.Min != nil && rule.Max != nil && *rule.Min > *rule.Max {
			issues = append(issues, fmt.Sprintf("variable %q: min greater than max", v.Name))
		}
		if rule.Pattern != "" {
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				issues = append(issues, fmt.Sprintf("variable %q: invalid pattern: %v", v.Name, err))
			}
		}
		if rule.Custom != "" {
			if _, err := p.compile(rule.Custom); err != nil {
				issues = append(issues, fmt.Sprintf("variable %q: invalid custom rule: %v", v.Name, err))
			}
		}
	}
	return issues
}

// check applies the variable's validation rule to a resolved value and
// returns warnings. Min/max bound numbers by value and other types by length.
func (p *predicates) check(v models.TemplateVariable, raw, value interface{}, text string) []string {
	rule := v.Validation
	if rule == nil {
		return nil
	}
	var warnings []string

	if rule.Min != nil || rule.Max != nil {
		n, isNum := value.(float64)
		what := "value"
		if !isNum {
			n = float64(len([]rune(text)))
			what = "length"
		}
		if rule.Min != nil && n < *rule.Min {
			warnings = append(warnings, fmt.Sprintf("variable %q: %s %v below minimum %v", v.Name, what, n, *rule.Min))
		}
		if rule.Max != nil && n > *rule.Max {
			warnings = append(warnings, fmt.Sprintf("variable %q: %s %v above maximum %v", v.Name, what, n, *rule.Max))
		}
	}

	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("variable %q: invalid pattern", v.Name))
		} else if !re.MatchString(fmt.Sprint(raw)) {
			warnings = append(warnings, fmt.Sprintf("variable %q: value does not match pattern %s", v.Name, rule.Pattern))
		}
	}

	if rule.Custom != "" {
		prog, err := p.compile(rule.Custom)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("variable %q: invalid custom rule", v.Name))
			return warnings
		}
		out, err := expr.Run(prog, predicateEnv{Value: value, Raw: raw, Name: v.Name})
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("variable %q: custom rule error: %v", v.Name, err))
		case out != true:
			warnings = append(warnings, fmt.Sprintf("variable %q: custom rule %q failed", v.Name, rule.Custom))
		}
	}
	return warnings
}
