package sqlgen

import (
	"strings"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

// Dialect selects the identifier quoting and statement flavor for a
// destination engine family.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectRedshift  Dialect = "redshift"
	DialectSnowflake Dialect = "snowflake"
	DialectBigQuery  Dialect = "bigquery"
	DialectMySQL     Dialect = "mysql"
)

// DialectFor maps an engine family to its statement dialect. The MySQL
// pool sets ANSI_QUOTES per session, but source-side extraction keeps the
// native backtick so the session setting is not load-bearing.
func DialectFor(engine replication.EngineType) Dialect {
	switch engine {
	case replication.EngineRedshift:
		return DialectRedshift
	case replication.EngineMySQL, replication.EngineMariaDB:
		return DialectMySQL
	case replication.EngineSnowflake:
		return DialectSnowflake
	case replication.EngineBigQuery:
		return DialectBigQuery
	default:
		return DialectPostgres
	}
}

// QuoteRune returns the dialect's identifier quote character.
func (d Dialect) QuoteRune() rune {
	switch d {
	case DialectBigQuery, DialectMySQL:
		return '`'
	default:
		return '"'
	}
}

// QuoteIdent quotes a single identifier, doubling any embedded quote
// character so user-supplied names cannot break out of the identifier.
func QuoteIdent(value string, quote rune) string {
	if value == "" {
		return value
	}
	escaped := strings.ReplaceAll(value, string(quote), string(quote)+string(quote))
	return string(quote) + escaped + string(quote)
}

// UnquoteIdent reverses QuoteIdent. Inputs that are not quoted with the given
// rune are returned unchanged.
func UnquoteIdent(value string, quote rune) string {
	q := string(quote)
	if len(value) < 2 || !strings.HasPrefix(value, q) || !strings.HasSuffix(value, q) {
		return value
	}
	inner := value[len(q) : len(value)-len(q)]
	return strings.ReplaceAll(inner, q+q, q)
}

// QuoteQualified quotes a dotted name part by part.
func QuoteQualified(name string, quote rune) string {
	parts := strings.Split(name, ".")
	if len(parts) == 1 {
		return QuoteIdent(parts[0], quote)
	}
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		quoted = append(quoted, QuoteIdent(part, quote))
	}
	return strings.Join(quoted, ".")
}

// QuoteColumns quotes and comma-joins a column list.
func QuoteColumns(cols []string, quote rune) string {
	quoted := make([]string, 0, len(cols))
	for _, col := range cols {
		quoted = append(quoted, QuoteIdent(col, quote))
	}
	return strings.Join(quoted, ", ")
}
