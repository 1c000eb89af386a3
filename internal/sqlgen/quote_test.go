package sqlgen

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/realize-engineering/pipebird/pkg/replication"
)

func TestQuoteIdentDoublesEmbeddedQuotes(t *testing.T) {
	got := QuoteIdent(`weird"name`, '"')
	want := `"weird""name"`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	got = QuoteIdent("back`tick", '`')
	want = "`back``tick`"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestQuoteIdentRoundTripRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-zA-Z0-9_" ]{1,24}`).Draw(t, "name")
		quote := rapid.SampledFrom([]rune{'"', '`'}).Draw(t, "quote")

		quoted := QuoteIdent(name, quote)
		if !strings.HasPrefix(quoted, string(quote)) || !strings.HasSuffix(quoted, string(quote)) {
			t.Fatalf("expected %q to be wrapped in %q", quoted, quote)
		}
		if UnquoteIdent(quoted, quote) != name {
			t.Fatalf("round trip of %q via %q gave %q", name, quoted, UnquoteIdent(quoted, quote))
		}
	})
}

func TestQuoteQualified(t *testing.T) {
	got := QuoteQualified("public.orders", '"')
	if got != `"public"."orders"` {
		t.Fatalf("unexpected qualified name %q", got)
	}
	if QuoteQualified("orders", '`') != "`orders`" {
		t.Fatalf("single part should quote as one identifier")
	}
}

func TestDialectFor(t *testing.T) {
	cases := map[replication.EngineType]Dialect{
		replication.EnginePostgres:    DialectPostgres,
		replication.EngineCockroachDB: DialectPostgres,
		replication.EngineRedshift:    DialectRedshift,
		replication.EngineMySQL:       DialectMySQL,
		replication.EngineMariaDB:     DialectMySQL,
		replication.EngineSnowflake:   DialectSnowflake,
		replication.EngineBigQuery:    DialectBigQuery,
	}
	for engine, want := range cases {
		if got := DialectFor(engine); got != want {
			t.Fatalf("engine %s: expected dialect %s, got %s", engine, want, got)
		}
	}
}

func TestQuoteRune(t *testing.T) {
	if DialectBigQuery.QuoteRune() != '`' || DialectMySQL.QuoteRune() != '`' {
		t.Fatalf("bigquery and mysql should use backticks")
	}
	if DialectPostgres.QuoteRune() != '"' || DialectSnowflake.QuoteRune() != '"' {
		t.Fatalf("postgres and snowflake should use double quotes")
	}
}
