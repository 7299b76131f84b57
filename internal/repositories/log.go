package repositories

import (
	"strings"

	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
)

// logQuery logs a query, its arguments, result and error on one line.
func logQuery(query string, args []any, result any, err error) {
	logger.Log.Debugw("query",
		"sql", strings.Join(strings.Fields(query), " "),
		"args", args,
		"result", result,
		"error", err,
	)
}
