package google

import (
	"fmt"
	"strconv"
	"strings"

	"fintrack/internal/core"
)

// header is written once to an empty sheet.
var header = []any{"Date", "Transaction", "Type", "Amount", "From", "To", "Category", "Description"}

// toRow lays out one transaction as a sheet row. Amounts are exported as text
// so the sheet never rounds them through a float.
func toRow(t core.TransactionPosted) []any {
	category := ""
	if t.CategoryID != nil {
		category = strconv.FormatInt(*t.CategoryID, 10)
	}
	return []any{
		t.PostedAt.UTC().Format(core.DateLayout),
		t.TransactionID,
		string(t.Kind),
		t.Amount.String(),
		t.FromAccountNumber,
		t.ToAccountNumber,
		category,
		t.Description,
	}
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// quoteSheet quotes a sheet name for use in A1 notation.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
