package db

import (
	"database/sql/driver"
	"fmt"

	"golang.org/x/text/cases"
	"modernc.org/sqlite"
)

// FoldFunc is the SQL function that case-folds its argument with full
// Unicode rules. SQLite's own lower() and LIKE only fold ASCII.
const FoldFunc = "shelf_fold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(FoldFunc, 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case nil:
				return nil, nil
			case string:
				return Fold(v), nil
			case []byte:
				return Fold(string(v)), nil
			default:
				return Fold(fmt.Sprint(v)), nil
			}
		})
}

// Fold case-folds s the same way FoldFunc does inside queries.
// A Caser is stateful, so each call gets its own.
func Fold(s string) string {
	return cases.Fold().String(s)
}
