// Copyright 2025 BMAD Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Evaluate runs a minimal guard expression against workflow variables.
// Supported: identifiers, comparisons (==, !=, <, <=, >, >=), literals
// true/false, numbers, single-quoted strings, and is / is not as
// equality aliases. A bare operand evaluates to its truthiness.
func Evaluate(expr string, vars map[string]any) (bool, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return false, err
	}
	if len(tokens) == 0 {
		return true, nil
	}

	left, rest, err := operand(tokens, vars)
	if err != nil {
		return false, err
	}

	if len(rest) == 0 {
		return truthy(left), nil
	}

	op := rest[0].text
	rest = rest[1:]

	// "is" and "is not" alias equality.
	if op == "is" {
		if len(rest) > 0 && rest[0].text == "not" && rest[0].kind == tokWord {
			op = "!="
			rest = rest[1:]
		} else {
			op = "=="
		}
	}

	right, rest, err := operand(rest, vars)
	if err != nil {
		return false, err
	}
	if len(rest) != 0 {
		return false, fmt.Errorf("unexpected trailing tokens in expression %q", expr)
	}

	return compare(left, op, right)
}

type tokKind int

const (
	tokWord tokKind = iota
	tokNumber
	tokString
	tokOp
)

type token struct {
	kind tokKind
	text string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++

		case c == '\'':
			end := strings.IndexByte(expr[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated string in expression %q", expr)
			}
			tokens = append(tokens, token{tokString, expr[i+1 : i+1+end]})
			i += end + 2

		case strings.ContainsRune("=!<>", rune(c)):
			op := string(c)
			if i+1 < len(expr) && expr[i+1] == '=' {
				op += "="
				i++
			}
			i++
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("invalid operator %q in expression %q", op, expr)
			}
			tokens = append(tokens, token{tokOp, op})

		case c >= '0' && c <= '9' || c == '-':
			start := i
			i++
			for i < len(expr) && (expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tokNumber, expr[start:i]})

		case isIdentStart(c):
			start := i
			for i < len(expr) && isIdentPart(expr[i]) {
				i++
			}
			tokens = append(tokens, token{tokWord, expr[start:i]})

		default:
			return nil, fmt.Errorf("unexpected character %q in expression %q", c, expr)
		}
	}
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '.'
}

// operand consumes one value token.
func operand(tokens []token, vars map[string]any) (any, []token, error) {
	if len(tokens) == 0 {
		return nil, nil, fmt.Errorf("expression ended where a value was expected")
	}
	t := tokens[0]
	rest := tokens[1:]

	switch t.kind {
	case tokString:
		return t.text, rest, nil

	case tokNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid number %q", t.text)
		}
		return n, rest, nil

	case tokWord:
		switch t.text {
		case "true":
			return true, rest, nil
		case "false":
			return false, rest, nil
		default:
			return vars[t.text], rest, nil
		}

	default:
		return nil, nil, fmt.Errorf("unexpected operator %q where a value was expected", t.text)
	}
}

func compare(left any, op string, right any) (bool, error) {
	ln, lok := toNumber(left)
	rn, rok := toNumber(right)

	if lok && rok {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		}
	}

	ls, rs := toString(left), toString(right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
