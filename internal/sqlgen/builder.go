package sqlgen

import (
	"fmt"
	"strings"
)

// ColumnDef pairs a destination column name with its source type name. Types
// are mapped per dialect at build time.
type ColumnDef struct {
	Name       string
	SourceType string
}

// QuoteLiteral renders a single-quoted SQL string literal, doubling embedded
// quotes. Used only for values the builder itself supplies (URLs, staging
// credentials) inside statements destined for QueryUnsafe.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// SelectMaxLastModified builds the tenant-scoped probe for the newest
// last-modified value. Placeholders are pre-rendered for the engine.
func SelectMaxLastModified(d Dialect, table, lastModifiedCol, tenantCol, tenantPlaceholder string) string {
	q := d.QuoteRune()
	return fmt.Sprintf("select max(%s) as max_last_modified from %s where %s = %s",
		QuoteIdent(lastModifiedCol, q), QuoteQualified(table, q),
		QuoteIdent(tenantCol, q), tenantPlaceholder)
}

// ColumnAlias selects one source column under its destination name.
type ColumnAlias struct {
	Source string
	Dest   string
}

// SelectDelta builds the incremental extraction query: the mapped source
// columns for one tenant, restricted to rows newer than the watermark.
// Columns come back under their destination names so the extracted batch
// needs no further renaming.
func SelectDelta(d Dialect, table string, cols []ColumnAlias, tenantCol, tenantPlaceholder, lastModifiedCol, watermarkPlaceholder string) string {
	q := d.QuoteRune()
	selected := make([]string, 0, len(cols))
	for _, col := range cols {
		selected = append(selected, fmt.Sprintf("%s as %s", QuoteIdent(col.Source, q), QuoteIdent(col.Dest, q)))
	}
	return fmt.Sprintf("select %s from %s where %s = %s and %s > %s",
		strings.Join(selected, ", "), QuoteQualified(table, q),
		QuoteIdent(tenantCol, q), tenantPlaceholder,
		QuoteIdent(lastModifiedCol, q), watermarkPlaceholder)
}

// CreateSchema builds the idempotent schema DDL for the dialect. Snowflake
// schemas are created with managed access so grants stay centralized.
func CreateSchema(d Dialect, database, schema string) string {
	q := d.QuoteRune()
	switch d {
	case DialectSnowflake:
		return fmt.Sprintf("create schema if not exists %s.%s with managed access",
			QuoteIdent(database, q), QuoteIdent(schema, q))
	case DialectBigQuery:
		return fmt.Sprintf("create schema if not exists %s.%s",
			QuoteIdent(database, q), QuoteIdent(schema, q))
	default:
		return fmt.Sprintf("create schema if not exists %s", QuoteIdent(schema, q))
	}
}

// CreateTable builds idempotent target-table DDL with type-mapped columns.
// The parts are quoted individually and joined with dots.
func CreateTable(d Dialect, tableParts []string, cols []ColumnDef) string {
	q := d.QuoteRune()
	defs := make([]string, 0, len(cols))
	for _, col := range cols {
		defs = append(defs, fmt.Sprintf("%s %s", QuoteIdent(col.Name, q), ColumnTypeFor(d, col.SourceType)))
	}
	return fmt.Sprintf("create table if not exists %s ( %s )",
		joinQuoted(tableParts, q), strings.Join(defs, ", "))
}

// SnowflakeCreateStage builds the CREATE STAGE statement pointing Snowflake
// at the staged S3 object. Only executable via QueryUnsafe: stage options do
// not accept bindings.
func SnowflakeCreateStage(schema, stage, s3URL, accessKeyID, secretKey, kmsKeyID string) string {
	return fmt.Sprintf(
		"create or replace stage %s.%s url=%s credentials = (aws_key_id=%s aws_secret_key=%s) encryption = (TYPE='AWS_SSE_KMS' KMS_KEY_ID=%s) file_format = (TYPE='CSV' FIELD_DELIMITER=',' SKIP_HEADER=1)",
		QuoteIdent(schema, '"'), QuoteIdent(stage, '"'),
		QuoteLiteral(s3URL), QuoteLiteral(accessKeyID), QuoteLiteral(secretKey), QuoteLiteral(kmsKeyID))
}

// SnowflakeMerge builds the MERGE statement applying the staged rows onto the
// target table keyed on the primary-key column. Staged columns are addressed
// positionally ($1, $2, ...) in declaration order.
func SnowflakeMerge(schema, table, stage string, columns []string, primaryKey string) string {
	const q = '"'
	selectExprs := make([]string, 0, len(columns))
	for i, col := range columns {
		selectExprs = append(selectExprs, fmt.Sprintf("$%d %s", i+1, QuoteIdent(col, q)))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "merge into %s.%s using ( select %s from @%s.%s ) newData on %s.%s.%s = newData.%s",
		QuoteIdent(schema, q), QuoteIdent(table, q),
		strings.Join(selectExprs, ", "),
		QuoteIdent(schema, q), QuoteIdent(stage, q),
		QuoteIdent(schema, q), QuoteIdent(table, q), QuoteIdent(primaryKey, q), QuoteIdent(primaryKey, q))
	writeMergeBranches(&sb, columns, primaryKey, q)
	return sb.String()
}

// BigQueryMerge builds the MERGE statement reading from the external staging
// table registered over the staged GCS object.
func BigQueryMerge(database, schema, table, stage string, columns []string, primaryKey string) string {
	const q = '`'
	selectCols := make([]string, 0, len(columns))
	for _, col := range columns {
		selectCols = append(selectCols, QuoteIdent(col, q))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "merge into %s.%s.%s using ( select %s from %s.%s.%s ) newData on %s.%s = newData.%s",
		QuoteIdent(database, q), QuoteIdent(schema, q), QuoteIdent(table, q),
		strings.Join(selectCols, ", "),
		QuoteIdent(database, q), QuoteIdent(schema, q), QuoteIdent(stage, q),
		QuoteIdent(table, q), QuoteIdent(primaryKey, q), QuoteIdent(primaryKey, q))
	writeMergeBranches(&sb, columns, primaryKey, q)
	return sb.String()
}

func writeMergeBranches(sb *strings.Builder, columns []string, primaryKey string, q rune) {
	nonKey := withoutColumn(columns, primaryKey)
	sets := make([]string, 0, len(nonKey))
	for _, col := range nonKey {
		sets = append(sets, fmt.Sprintf("%s = newData.%s", QuoteIdent(col, q), QuoteIdent(col, q)))
	}
	inserts := make([]string, 0, len(columns))
	values := make([]string, 0, len(columns))
	for _, col := range columns {
		inserts = append(inserts, QuoteIdent(col, q))
		values = append(values, "newData."+QuoteIdent(col, q))
	}
	fmt.Fprintf(sb, " when matched then update set %s when not matched then insert ( %s ) values ( %s )",
		strings.Join(sets, ", "), strings.Join(inserts, ", "), strings.Join(values, ", "))
}

// BigQueryCreateExternalStage registers an external table over the staged
// GCS object so MERGE can read it in place. QueryUnsafe only: external table
// options do not accept bindings.
func BigQueryCreateExternalStage(database, schema, stage string, cols []ColumnDef, gcsURI string) string {
	const q = '`'
	defs := make([]string, 0, len(cols))
	for _, col := range cols {
		defs = append(defs, fmt.Sprintf("%s %s", QuoteIdent(col.Name, q), ColumnTypeFor(DialectBigQuery, col.SourceType)))
	}
	return fmt.Sprintf(
		"create or replace external table %s.%s.%s ( %s ) options ( format = 'CSV', compression = 'GZIP', skip_leading_rows = 1, uris = [%s] )",
		QuoteIdent(database, q), QuoteIdent(schema, q), QuoteIdent(stage, q),
		strings.Join(defs, ", "), QuoteLiteral(gcsURI))
}

// RedshiftCreateTempStage builds the session-scoped staging table mirroring
// the target's layout. Temp tables are session-scoped and stay unqualified.
func RedshiftCreateTempStage(stage, schema, table string) string {
	const q = '"'
	return fmt.Sprintf("create temp table if not exists %s (like %s.%s)",
		QuoteIdent(stage, q), QuoteIdent(schema, q), QuoteIdent(table, q))
}

// RedshiftCopy builds the COPY loading the staged gzip CSV object into the
// temp staging table. QueryUnsafe only: COPY credentials cannot be bound.
// timeformat 'auto' accepts the RFC 3339 timestamps the extractor emits.
func RedshiftCopy(stage, s3URL, accessKeyID, secretKey string) string {
	creds := fmt.Sprintf("aws_access_key_id=%s;aws_secret_access_key=%s", accessKeyID, secretKey)
	return fmt.Sprintf("copy %s from %s credentials %s csv gzip timeformat as 'auto' IGNOREHEADER 1",
		QuoteIdent(stage, '"'), QuoteLiteral(s3URL), QuoteLiteral(creds))
}

// Redshift has no MERGE; the upsert decomposes into update, delete of
// already-applied staged rows, then insert of the remainder.

func RedshiftUpdateFromStage(schema, table, stage string, columns []string, primaryKey string) string {
	const q = '"'
	sets := make([]string, 0, len(columns))
	for _, col := range withoutColumn(columns, primaryKey) {
		sets = append(sets, fmt.Sprintf("%s = newData.%s", QuoteIdent(col, q), QuoteIdent(col, q)))
	}
	return fmt.Sprintf("update %s.%s set %s from %s as newData where %s.%s = newData.%s",
		QuoteIdent(schema, q), QuoteIdent(table, q),
		strings.Join(sets, ", "), QuoteIdent(stage, q),
		QuoteIdent(table, q), QuoteIdent(primaryKey, q), QuoteIdent(primaryKey, q))
}

func RedshiftDeleteApplied(stage, schema, table, primaryKey string) string {
	const q = '"'
	return fmt.Sprintf("delete from %s using %s.%s where %s.%s = %s.%s",
		QuoteIdent(stage, q), QuoteIdent(schema, q), QuoteIdent(table, q),
		QuoteIdent(stage, q), QuoteIdent(primaryKey, q),
		QuoteIdent(table, q), QuoteIdent(primaryKey, q))
}

func RedshiftInsertFromStage(schema, table, stage string) string {
	const q = '"'
	return fmt.Sprintf("insert into %s.%s select * from %s",
		QuoteIdent(schema, q), QuoteIdent(table, q), QuoteIdent(stage, q))
}

func withoutColumn(columns []string, drop string) []string {
	out := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == drop {
			continue
		}
		out = append(out, col)
	}
	return out
}

func joinQuoted(parts []string, q rune) string {
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		quoted = append(quoted, QuoteIdent(part, q))
	}
	return strings.Join(quoted, ".")
}
