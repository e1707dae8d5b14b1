package db

import (
	"fmt"

	"gorm.io/gorm"
)

// JSONMergeExpr returns a dialect-specific SQL expression that merges a
// bound JSON object into column within a single update statement.
func JSONMergeExpr(conn *gorm.DB, column string) string {
	if conn.Dialector.Name() == "postgres" {
		return fmt.Sprintf("COALESCE(%s, '{}'::jsonb) || CAST(? AS jsonb)", column)
	}
	// sqlite binds JSON columns as blobs; json_patch wants text.
	return fmt.Sprintf("json_patch(COALESCE(CAST(%s AS TEXT), '{}'), ?)", column)
}
