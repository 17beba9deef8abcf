package expr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// token kinds produced by the lexer.
type tokenKind int

const (
	tokText tokenKind = iota
	tokVar             // {{ expr }}
	tokTagIf
	tokTagElse
	tokTagEndIf
	tokTagFor
	tokTagEndFor
)

type token struct {
	kind tokenKind
	body string // expression text for tokVar/tokTagIf/tokTagFor
}

var tagPattern = regexp.MustCompile(`\{\{(.*?)\}\}|\{%(.*?)%\}`)

func lex(template string) []token {
	var tokens []token
	last := 0
	for _, loc := range tagPattern.FindAllStringSubmatchIndex(template, -1) {
		if loc[0] > last {
			tokens = append(tokens, token{kind: tokText, body: template[last:loc[0]]})
		}
		if loc[2] != -1 {
			tokens = append(tokens, token{kind: tokVar, body: strings.TrimSpace(template[loc[2]:loc[3]])})
		} else {
			raw := strings.TrimSpace(template[loc[4]:loc[5]])
			switch {
			case strings.HasPrefix(raw, "if "):
				tokens = append(tokens, token{kind: tokTagIf, body: strings.TrimSpace(raw[3:])})
			case raw == "else":
				tokens = append(tokens, token{kind: tokTagElse})
			case raw == "endif":
				tokens = append(tokens, token{kind: tokTagEndIf})
			case strings.HasPrefix(raw, "for "):
				tokens = append(tokens, token{kind: tokTagFor, body: strings.TrimSpace(raw[4:])})
			case raw == "endfor":
				tokens = append(tokens, token{kind: tokTagEndFor})
			}
		}
		last = loc[1]
	}
	if last < len(template) {
		tokens = append(tokens, token{kind: tokText, body: template[last:]})
	}
	return tokens
}

// node is a parsed template element.
type node interface{}

type textNode struct{ text string }
type varNode struct{ expr string }
type ifNode struct {
	cond       string
	thenBranch []node
	elseBranch []node
}
type forNode struct {
	varName string
	listExp string
	body    []node
}

// parse builds a node tree from the token stream, consuming tokens[0:] and
// returning the remaining, unconsumed tokens (used for recursive descent on
// {% endif %} / {% endfor %}).
func parse(tokens []token) ([]node, []token) {
	var nodes []node
	for len(tokens) > 0 {
		t := tokens[0]
		switch t.kind {
		case tokText:
			nodes = append(nodes, &textNode{text: t.body})
			tokens = tokens[1:]
		case tokVar:
			nodes = append(nodes, &varNode{expr: t.body})
			tokens = tokens[1:]
		case tokTagIf:
			cond := t.body
			thenNodes, rest := parse(tokens[1:])
			var elseNodes []node
			if len(rest) > 0 && rest[0].kind == tokTagElse {
				elseNodes, rest = parse(rest[1:])
			}
			if len(rest) > 0 && rest[0].kind == tokTagEndIf {
				rest = rest[1:]
			}
			nodes = append(nodes, &ifNode{cond: cond, thenBranch: thenNodes, elseBranch: elseNodes})
			tokens = rest
		case tokTagElse, tokTagEndIf, tokTagEndFor:
			return nodes, tokens
		case tokTagFor:
			parts := strings.SplitN(t.body, " in ", 2)
			var varName, listExp string
			if len(parts) == 2 {
				varName, listExp = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			}
			body, rest := parse(tokens[1:])
			if len(rest) > 0 && rest[0].kind == tokTagEndFor {
				rest = rest[1:]
			}
			nodes = append(nodes, &forNode{varName: varName, listExp: listExp, body: body})
			tokens = rest
		}
	}
	return nodes, tokens
}

// Render evaluates template against ctx. A template that is exactly one
// `{{ expr }}` (optionally piped through tojson/fromjson) with no other
// text returns the expression's native type; any other template renders to
// a string.
func Render(eval *Evaluator, template string, ctx map[string]interface{}) (interface{}, error) {
	if isSingleExpression(template) {
		inner := strings.TrimSpace(template[2 : len(template)-2])
		return evalPiped(eval, inner, ctx)
	}

	tokens := lex(template)
	nodes, _ := parse(tokens)
	var sb strings.Builder
	if err := renderNodes(eval, nodes, ctx, &sb); err != nil {
		return nil, err
	}
	return sb.String(), nil
}

func isSingleExpression(template string) bool {
	trimmed := strings.TrimSpace(template)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return false
	}
	matches := tagPattern.FindAllStringIndex(trimmed, -1)
	return len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(trimmed)
}

func renderNodes(eval *Evaluator, nodes []node, ctx map[string]interface{}, sb *strings.Builder) error {
	for _, n := range nodes {
		switch v := n.(type) {
		case *textNode:
			sb.WriteString(v.text)
		case *varNode:
			val, err := evalPiped(eval, v.expr, ctx)
			if err != nil {
				return err
			}
			sb.WriteString(strFunc(val))
		case *ifNode:
			ok, err := eval.EvaluateBool(v.cond, ctx)
			if err != nil {
				return err
			}
			if ok {
				if err := renderNodes(eval, v.thenBranch, ctx, sb); err != nil {
					return err
				}
			} else if v.elseBranch != nil {
				if err := renderNodes(eval, v.elseBranch, ctx, sb); err != nil {
					return err
				}
			}
		case *forNode:
			listVal, err := eval.Evaluate(v.listExp, ctx)
			if err != nil {
				return err
			}
			items, ok := listVal.([]interface{})
			if !ok {
				return &apperrors.ExpressionError{
					Kind:       apperrors.ExpressionErrorBadType,
					Expression: v.listExp,
					Message:    fmt.Sprintf("for loop target must be a list, got %T", listVal),
				}
			}
			for _, item := range items {
				loopCtx := make(map[string]interface{}, len(ctx)+1)
				for k, val := range ctx {
					loopCtx[k] = val
				}
				loopCtx[v.varName] = item
				if err := renderNodes(eval, v.body, loopCtx, sb); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// evalPiped evaluates an expression that may end in a pipe filter such as
// `steps.fetch.body | fromjson` or `result | tojson`.
func evalPiped(eval *Evaluator, expr string, ctx map[string]interface{}) (interface{}, error) {
	base, filter := splitPipe(expr)
	val, err := eval.Evaluate(base, ctx)
	if err != nil {
		return nil, err
	}
	switch filter {
	case "":
		return val, nil
	case "tojson":
		b, mErr := json.Marshal(val)
		if mErr != nil {
			return nil, &apperrors.ExpressionError{Kind: apperrors.ExpressionErrorBadType, Expression: expr, Message: "tojson: " + mErr.Error(), Cause: mErr}
		}
		return string(b), nil
	case "fromjson":
		s, ok := val.(string)
		if !ok {
			return nil, &apperrors.ExpressionError{Kind: apperrors.ExpressionErrorBadType, Expression: expr, Message: fmt.Sprintf("fromjson: expected string, got %T", val)}
		}
		var out interface{}
		if uErr := json.Unmarshal([]byte(s), &out); uErr != nil {
			return nil, &apperrors.ExpressionError{Kind: apperrors.ExpressionErrorBadType, Expression: expr, Message: "fromjson: " + uErr.Error(), Cause: uErr}
		}
		return out, nil
	default:
		return nil, &apperrors.ExpressionError{Kind: apperrors.ExpressionErrorBadType, Expression: expr, Message: fmt.Sprintf("unknown filter %q", filter)}
	}
}

// splitPipe splits "expr | filter" on the last top-level pipe, ignoring
// pipes inside string literals.
func splitPipe(s string) (base, filter string) {
	depthQuote := byte(0)
	lastPipe := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if depthQuote != 0 {
			if c == depthQuote && (i == 0 || s[i-1] != '\\') {
				depthQuote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			depthQuote = c
		case '|':
			// expr-lang also uses `|` for the pipe operator in its own
			// grammar, but this template layer only recognizes the
			// trailing `| name` filter form, so treat the final pipe as
			// the filter separator.
			lastPipe = i
		}
	}
	if lastPipe == -1 {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(s[:lastPipe]), strings.TrimSpace(s[lastPipe+1:])
}
