package storage

import (
	"strconv"
	"strings"
)

// placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return "$" + strconv.Itoa(n) }

// where renders f as a SQL WHERE clause (including the keyword) and its arguments.
// An empty filter yields an empty clause.
func (f TimerFilter) where(ph placeholder) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, col+" = "+ph(len(args)))
	}
	if f.ID != 0 {
		add("id", f.ID)
	}
	if f.Event != "" {
		add("event", f.Event)
	}
	if f.Owner != "" {
		add("owner", f.Owner)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
