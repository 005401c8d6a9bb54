package repository

import (
	"strconv"
	"strings"
)

// LeadColumns lists the leads table columns in scan order.
var LeadColumns = TableColumns{
	TableName: "leads",
	Columns: []string{
		"id",
		"widget_id",
		"name",
		"email",
		"phone",
		"notes",
		"date",
		"time",
		"estimate_json",
		"created_at",
	},
}

// WidgetColumns lists the widgets table columns in scan order.
var WidgetColumns = TableColumns{
	TableName: "widgets",
	Columns: []string{
		"id",
		"name",
		"config",
		"updated_at",
	},
}

// TableColumns generates SQL fragments from one column list so queries and
// scans cannot drift apart.
type TableColumns struct {
	TableName string
	Columns   []string
}

// Select returns "id, name, ...".
func (tc TableColumns) Select() string {
	return strings.Join(tc.Columns, ", ")
}

// Placeholders returns "$1, $2, ..." for every column.
func (tc TableColumns) Placeholders() string {
	placeholders := make([]string, len(tc.Columns))
	for i := range tc.Columns {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(placeholders, ", ")
}

// UpdateSet returns the SET clause for every column but the first, which is
// assumed to be the key bound to $1. Example: "name = $2, config = $3".
func (tc TableColumns) UpdateSet() string {
	if len(tc.Columns) <= 1 {
		return ""
	}
	parts := make([]string, len(tc.Columns)-1)
	for i := 1; i < len(tc.Columns); i++ {
		parts[i-1] = tc.Columns[i] + " = $" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}

// Insert returns a full INSERT statement for the table.
func (tc TableColumns) Insert() string {
	return "INSERT INTO " + tc.TableName + " (" + tc.Select() + ") VALUES (" + tc.Placeholders() + ")"
}

// Count returns the number of columns.
func (tc TableColumns) Count() int {
	return len(tc.Columns)
}
