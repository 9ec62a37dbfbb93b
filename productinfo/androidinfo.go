package productinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Directive prefixes of android-info.txt.
const (
	directiveRequire    = "require"
	directiveReject     = "reject"
	directiveForProduct = "require-for-product:"
	directiveForVariant = "require-for-variant:"
)

// Rule is one requirement on a device variable.
type Rule struct {
	// Name is the device variable, as written in the file
	Name string

	// Values lists accepted (or rejected) values; a trailing '*' is a prefix match
	Values []string

	// Reject inverts the rule: any match fails the check
	Reject bool

	// Product restricts the rule to devices whose product equals it
	Product string

	// Variant restricts the rule to devices whose variant equals it
	Variant string

	// Line is the 1-based source line
	Line int
}

// Matches reports whether value satisfies one of the rule's values.
func (r Rule) Matches(value string) bool {
	for _, v := range r.Values {
		if prefix, ok := strings.CutSuffix(v, "*"); ok {
			if strings.HasPrefix(value, prefix) {
				return true
			}
		} else if v == value {
			return true
		}
	}
	return false
}

// Requirements is a parsed android-info.txt.
type Requirements struct {
	Rules []Rule
}

// Parse parses the android-info.txt file at path.
func Parse(path string) (*Requirements, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseAndroidInfo(f)
}

// ParseAndroidInfo parses android-info.txt content. Blank lines and lines
// starting with '#' are ignored, as are directives it does not know.
func ParseAndroidInfo(r io.Reader) (*Requirements, error) {
	scanner := bufio.NewScanner(r)
	req := &Requirements{}

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		directive, rest, _ := strings.Cut(line, " ")
		rule := Rule{Line: lineNum}

		switch {
		case directive == directiveRequire:
		case directive == directiveReject:
			rule.Reject = true
		case strings.HasPrefix(directive, directiveForProduct):
			rule.Product = strings.TrimPrefix(directive, directiveForProduct)
			if rule.Product == "" {
				return nil, &SyntaxError{Line: lineNum, Text: line, Msg: "missing product"}
			}
		case strings.HasPrefix(directive, directiveForVariant):
			rule.Variant = strings.TrimPrefix(directive, directiveForVariant)
			if rule.Variant == "" {
				return nil, &SyntaxError{Line: lineNum, Text: line, Msg: "missing variant"}
			}
		default:
			continue
		}

		name, values, err := splitRequirement(strings.TrimSpace(rest))
		if err != nil {
			return nil, &SyntaxError{Line: lineNum, Text: line, Msg: err.Error()}
		}
		rule.Name = name
		rule.Values = values
		req.Rules = append(req.Rules, rule)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return req, nil
}

func splitRequirement(s string) (string, []string, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok {
		return "", nil, fmt.Errorf("expected name=value")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("empty variable name")
	}

	var values []string
	for _, v := range strings.FieldsFunc(list, func(r rune) bool { return r == '|' || r == ',' }) {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("no values for %s", name)
	}
	return name, values, nil
}

// Check evaluates every rule against the device. lookup returns a device
// variable; a lookup error makes the variable read as empty. The first
// failing rule is returned as a *MismatchError.
func (req *Requirements) Check(lookup func(name string) (string, error)) error {
	cache := make(map[string]string)
	get := func(name string) string {
		if name == "board" {
			name = "product"
		}
		if v, ok := cache[name]; ok {
			return v
		}
		v, err := lookup(name)
		if err != nil {
			v = ""
		}
		v = strings.TrimSpace(v)
		cache[name] = v
		return v
	}

	for _, rule := range req.Rules {
		if rule.Product != "" && get("product") != rule.Product {
			continue
		}
		if rule.Variant != "" && get("variant") != rule.Variant {
			continue
		}

		value := get(rule.Name)
		if rule.Matches(value) == rule.Reject {
			return &MismatchError{Rule: rule, Device: value}
		}
	}
	return nil
}
