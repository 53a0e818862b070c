package templates

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// placeholderRegex matches {{ name }} placeholders. Nested braces are not part
// of the grammar; whitespace inside the braces is trimmed.
var placeholderRegex = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// ExtractPlaceholders returns the distinct placeholder names in text, in order
// of first appearance. Empty placeholders are returned as "".
func ExtractPlaceholders(text string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderRegex.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// substitute replaces every placeholder whose name is in values. Unknown
// placeholders are left as written.
func substitute(text string, values map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := values[name]; ok {
			return v
		}
		return match
	})
}

// ── Lookup ──────────────────────────────────────────────────

// lookup finds name in m, accepting the snake_case or camelCase spelling of
// the key. Nil values count as absent.
func lookup(m map[string]interface{}, name string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	for _, k := range []string{name, toCamel(name), toSnake(name)} {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	var b strings.Builder
	upper := false
	for _, r := range s {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// systemValues are the built-in variables every template may reference.
func systemValues(tctx models.TemplateContext, tag language.Tag) map[string]string {
	ts := tctx.Timestamp
	return map[string]string{
		"current_date": formatDate(ts, tag),
		"current_time": ts.Format("3:04 PM"),
		"tenant_id":    tctx.TenantID,
		"user_id":      tctx.UserID,
	}
}

// ── Formatting ──────────────────────────────────────────────

func parseLanguage(lang string) language.Tag {
	if lang == "" {
		return language.AmericanEnglish
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.AmericanEnglish
	}
	return tag
}

// formatDate renders t as a long date. US English reads "January 2, 2006";
// other regions put the day first.
func formatDate(t time.Time, tag language.Tag) string {
	region, _ := tag.Region()
	if region.String() == "US" {
		return t.Format("January 2, 2006")
	}
	return t.Format("2 January 2006")
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "01/02/2006"}

func toTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(x), ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
	}
	if f, ok := toFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

// formatValue renders raw for the variable's type. It returns the text to
// substitute, the normalized value handed to validation, and a warning when
// raw could not be interpreted as the declared type.
func formatValue(v models.TemplateVariable, raw interface{}, printer *message.Printer, tag language.Tag) (string, interface{}, string) {
	switch v.Type {
	case models.VarNumber:
		f, ok := toFloat(raw)
		if !ok {
			return fmt.Sprint(raw), raw, fmt.Sprintf("variable %q: %v is not a number", v.Name, raw)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return printer.Sprintf("%d", int64(f)), f, ""
		}
		return printer.Sprintf("%.2f", f), f, ""

	case models.VarDate:
		t, ok := toTime(raw)
		if !ok {
			return fmt.Sprint(raw), raw, fmt.Sprintf("variable %q: %v is not a date", v.Name, raw)
		}
		return formatDate(t, tag), t, ""

	case models.VarBoolean:
		b, ok := toBool(raw)
		if !ok {
			return fmt.Sprint(raw), raw, fmt.Sprintf("variable %q: %v is not a boolean", v.Name, raw)
		}
		if b {
			return "Yes", b, ""
		}
		return "No", b, ""

	case models.VarSelect:
		s := fmt.Sprint(raw)
		for _, opt := range v.Options {
			if opt == s {
				return s, s, ""
			}
		}
		return s, s, fmt.Sprintf("variable %q: %q is not one of the allowed options", v.Name, s)
	}
	s := fmt.Sprint(raw)
	return s, s, ""
}
