package expression

import (
	"github.com/expr-lang/expr"
	"github.com/pkg/errors"
)

// CheckFileSingleMatchWithReason returns true and the matching expression text
// for the first expression that evaluates to true.
func CheckFileSingleMatchWithReason(f *File, expressions []CompiledExpression) (bool, string, error) {
	for _, expression := range expressions {
		result, err := expr.Run(expression.Program, f)
		if err != nil {
			return false, "", errors.Wrapf(err, "check expression %q", expression.Text)
		}

		expResult, ok := result.(bool)
		if !ok {
			return false, "", errors.Errorf("type assert expression result: %T", result)
		}

		if expResult {
			return true, expression.Text, nil
		}
	}

	return false, "", nil
}
