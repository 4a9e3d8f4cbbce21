package db

import (
	"fmt"
	"strings"
)

// documentTables hold one row per indexed record, keyed by source id.
var documentTables = []string{"issue", "sprint", "epic"}

// filterFields are the exact-match fields queries can filter on.
var filterFields = []string{"issue_type", "status", "priority", "assignee", "sprint"}

// SchemaSQL returns the schema for all document tables with HNSW indexes of dim dimensions.
func SchemaSQL(dim int) string {
	var b strings.Builder
	for _, t := range documentTables {
		fmt.Fprintf(&b, `
    DEFINE TABLE IF NOT EXISTS %[1]s SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS key ON %[1]s TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON %[1]s TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON %[1]s TYPE string;
    DEFINE FIELD IF NOT EXISTS issue_type ON %[1]s TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS status ON %[1]s TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS priority ON %[1]s TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS assignee ON %[1]s TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS sprint ON %[1]s TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS updated ON %[1]s TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS embedding ON %[1]s TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS indexed_at ON %[1]s TYPE datetime DEFAULT time::now();
    DEFINE INDEX IF NOT EXISTS %[1]s_embedding ON %[1]s FIELDS embedding HNSW DIMENSION %[2]d DIST COSINE TYPE F32;
`, t, dim)
		for _, f := range filterFields {
			fmt.Fprintf(&b, "    DEFINE INDEX IF NOT EXISTS %[1]s_%[2]s ON %[1]s FIELDS %[2]s;\n", t, f)
		}
	}
	return b.String()
}

func validTable(t string) bool {
	for _, known := range documentTables {
		if t == known {
			return true
		}
	}
	return false
}
