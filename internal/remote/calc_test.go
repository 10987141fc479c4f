package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcExecute(t *testing.T) {
	e := NewCalcExecutor(newTestLogger())

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain addition", "2 + 2", "2 + 2 = 4"},
		{"precedence", "2 + 3 * 4", "2 + 3 * 4 = 14"},
		{"parentheses", "what is 12 * (3 + 4)", "12 * (3 + 4) = 84"},
		{"unary minus", "-5 + 3", "-5 + 3 = -2"},
		{"floats", "1.5 * 2", "1.5 * 2 = 3"},
		{"percent of", "calculate 15% of 80", "15% * 80 = 12"},
		{"postfix percent", "50% + 1", "50% + 1 = 1.5"},
		{"embedded in chatter", "hey, could you work out 7*6 for me?", "7*6 = 42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Execute(context.Background(), tc.input, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCalcExecuteErrors(t *testing.T) {
	e := NewCalcExecutor(newTestLogger())

	t.Run("no expression", func(t *testing.T) {
		_, err := e.Execute(context.Background(), "tell me a joke", nil)
		assert.Error(t, err)
	})

	t.Run("division by zero", func(t *testing.T) {
		_, err := e.Execute(context.Background(), "1 / 0", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "division by zero")
	})

	t.Run("unbalanced parenthesis", func(t *testing.T) {
		_, err := e.Execute(context.Background(), "(1 + 2", nil)
		assert.Error(t, err)
	})
}

func TestExtractExpression(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"what is 2+2?", "2+2"},
		{"15% of 80 please", "15% * 80"},
		{"no numbers here", ""},
		{"a 1 then a longer 2 + 3 * 4 run", "2 + 3 * 4"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, extractExpression(tc.input), "input %q", tc.input)
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "4", formatNumber(4.0))
	assert.Equal(t, "-12", formatNumber(-12.0))
	assert.Equal(t, "2.5", formatNumber(2.5))
	assert.Equal(t, "0.3333333333", formatNumber(1.0/3.0))
}
