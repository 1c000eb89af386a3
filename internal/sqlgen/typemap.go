package sqlgen

import "strings"

// Fixed lookup tables from source engine type names to destination type
// names. An unmapped type falls back to a wide string type instead of
// failing the build.

const (
	fallbackVarchar = "varchar"
	fallbackString  = "string"
)

var snowflakeTypes = map[string]string{
	"smallint":                    "smallint",
	"bigint":                      "bigint",
	"integer":                     "integer",
	"decimal":                     "decimal",
	"numeric":                     "decimal",
	"real":                        "real",
	"double precision":            "double precision",
	"boolean":                     "boolean",
	"varchar":                     "varchar",
	"character varying":           "varchar",
	"text":                        "text",
	"bytea":                       "binary",
	"timestamp":                   "timestamp",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"date":                        "date",
	"time":                        "time",
	"json":                        "variant",
	"jsonb":                       "variant",
	"USER-DEFINED":                "varchar",
}

var redshiftTypes = map[string]string{
	"smallint":                    "smallint",
	"bigint":                      "bigint",
	"integer":                     "integer",
	"decimal":                     "decimal",
	"numeric":                     "decimal",
	"real":                        "real",
	"double precision":            "double precision",
	"boolean":                     "boolean",
	"varchar":                     "varchar",
	"character varying":           "varchar",
	"text":                        "varchar(max)",
	"bytea":                       "varbyte",
	"timestamp":                   "timestamp",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"date":                        "date",
	"time":                        "time",
	"json":                        "super",
	"jsonb":                       "super",
}

var bigqueryTypes = map[string]string{
	"tinyint":                     "int64",
	"smallint":                    "int64",
	"mediumint":                   "int64",
	"integer":                     "int64",
	"bigint":                      "int64",
	"decimal":                     "numeric",
	"numeric":                     "numeric",
	"real":                        "float64",
	"double precision":            "float64",
	"boolean":                     "bool",
	"char":                        "string",
	"varchar":                     "string",
	"bytea":                       "bytes",
	"tinytext":                    "string",
	"text":                        "string",
	"mediumtext":                  "string",
	"longtext":                    "string",
	"timestamp":                   "timestamp",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamp",
	"date":                        "date",
	"time":                        "time",
	"json":                        "json",
	"jsonb":                       "json",
}

// ColumnTypeFor maps a source column type to the destination dialect's type,
// falling back to a generic wide string type for anything unmapped.
func ColumnTypeFor(dialect Dialect, sourceType string) string {
	raw := strings.TrimSpace(sourceType)
	key := strings.ToLower(raw)
	switch dialect {
	case DialectSnowflake:
		return lookup(snowflakeTypes, key, raw, fallbackVarchar)
	case DialectRedshift, DialectPostgres:
		return lookup(redshiftTypes, key, raw, fallbackVarchar)
	case DialectBigQuery:
		return lookup(bigqueryTypes, key, raw, fallbackString)
	default:
		return fallbackVarchar
	}
}

func lookup(table map[string]string, key, raw, fallback string) string {
	if mapped, ok := table[key]; ok {
		return mapped
	}
	if mapped, ok := table[raw]; ok {
		return mapped
	}
	return fallback
}
