package remote

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/pkg/card"
)

// CalcExecutor evaluates arithmetic expressions embedded in an utterance.
type CalcExecutor struct {
	logger *logrus.Logger
}

func NewCalcExecutor(logger *logrus.Logger) *CalcExecutor {
	return &CalcExecutor{logger: logger}
}

func (e *CalcExecutor) Name() string { return "calc" }

func (e *CalcExecutor) Skills() []card.Skill {
	return []card.Skill{
		{
			ID:          "arithmetic",
			Name:        "Arithmetic",
			Description: "Evaluates arithmetic expressions with +, -, *, /, parentheses and percentages.",
			Tags:        []string{"math", "calculate", "calculator", "arithmetic", "compute", "sum", "+", "-", "*", "/"},
			Examples: []string{
				"what is 12 * (3 + 4)",
				"calculate 15% of 80",
				"2 + 2",
			},
			InputModes:  []string{"text"},
			OutputModes: []string{"text"},
		},
	}
}

var exprPattern = regexp.MustCompile(`[-+*/().\d\s%]+`)

func (e *CalcExecutor) Execute(_ context.Context, input string, _ EmitFunc) (string, error) {
	expr := extractExpression(input)
	if expr == "" {
		return "", fmt.Errorf("no arithmetic expression found in %q", input)
	}

	value, err := evalExpression(expr)
	if err != nil {
		return "", fmt.Errorf("evaluating %q: %w", expr, err)
	}

	e.logger.Debugf("Evaluated %q = %v", expr, value)
	return fmt.Sprintf("%s = %s", expr, formatNumber(value)), nil
}

// extractExpression pulls the longest digit-bearing run of arithmetic
// characters out of free text.
func extractExpression(input string) string {
	// "15% of 80" reads naturally but is not an infix expression.
	input = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%\s+of\s+`).ReplaceAllString(input, "$1% * ")

	var best string
	for _, m := range exprPattern.FindAllString(input, -1) {
		m = strings.TrimSpace(m)
		if strings.ContainsAny(m, "0123456789") && len(m) > len(best) {
			best = m
		}
	}
	return best
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// evalExpression evaluates an infix arithmetic expression with the usual
// precedence. Supported: + - * / ( ) unary minus and a postfix % treated
// as division by 100.
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: expr}
	value, err := p.parseAddSub()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseAddSub() (float64, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseMulDiv() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		value, err := p.parseUnary()
		return -value, err
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	c := p.peek()

	if c == '(' {
		p.pos++
		value, err := p.parseAddSub()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return p.applyPercent(value), nil
	}

	if c < '0' || c > '9' {
		if c == '.' {
			// Leading-dot floats are fine, fall through.
		} else if c == 0 {
			return 0, fmt.Errorf("unexpected end of expression")
		} else {
			return 0, fmt.Errorf("unexpected %q at position %d", c, p.pos)
		}
	}

	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
	}
	return p.applyPercent(value), nil
}

// applyPercent consumes a postfix % sign: 15% becomes 0.15.
func (p *exprParser) applyPercent(value float64) float64 {
	if p.peek() == '%' {
		p.pos++
		return value / 100
	}
	return value
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
