package middle

import (
	"strings"
	"testing"

	"github.com/go-osm/middle/internal/sqltemplate"
)

func TestTableSQLExpandLeavesNoTemplateTokens(t *testing.T) {
	vars := sqltemplate.Vars{Prefix: "planet_osm", TableTablespace: "main", IndexTablespace: "idx", Unlogged: true}
	tables := []tableSQL{
		nodesTableSQL("double precision").expand(vars),
		waysTableSQL().expand(vars),
		relsTableSQL().expand(vars),
	}

	for _, tbl := range tables {
		for _, s := range append([]string{tbl.name, tbl.create, tbl.arrayIndex, tbl.analyze, tbl.copy}, stmtSQLs(tbl.prepare)...) {
			if strings.ContainsAny(s, "{}") {
				t.Errorf("table %s: expanded SQL still contains a brace: %q", tbl.name, s)
			}
			if strings.Contains(s, "%p") || strings.Contains(s, "%t") || strings.Contains(s, "%i") || strings.Contains(s, "%m") {
				t.Errorf("table %s: expanded SQL still contains a template token: %q", tbl.name, s)
			}
		}
	}
}

func stmtSQLs(stmts []preparedStmt) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.sql
	}
	return out
}

func TestTableSQLExpandAppliesPrefix(t *testing.T) {
	vars := sqltemplate.Vars{Prefix: "planet_osm"}
	nodes := nodesTableSQL("double precision").expand(vars)
	if nodes.name != "planet_osm_nodes" {
		t.Fatalf("nodes.name = %q, want planet_osm_nodes", nodes.name)
	}
	if !strings.Contains(nodes.create, "planet_osm_nodes") {
		t.Fatalf("nodes.create does not reference the expanded table name: %q", nodes.create)
	}
}

func TestTableSQLCopyColumnsMatchCreateColumns(t *testing.T) {
	vars := sqltemplate.Vars{Prefix: "planet_osm"}
	cases := []struct {
		tbl  tableSQL
		want []string
	}{
		{nodesTableSQL("double precision").expand(vars), []string{"id", "lat", "lon", "tags"}},
		{waysTableSQL().expand(vars), []string{"id", "nodes", "tags"}},
		{relsTableSQL().expand(vars), []string{"id", "way_off", "rel_off", "parts", "members", "tags"}},
	}
	for _, c := range cases {
		if len(c.tbl.copyColumns) != len(c.want) {
			t.Fatalf("%s: copyColumns = %v, want %v", c.tbl.name, c.tbl.copyColumns, c.want)
		}
		for i, col := range c.want {
			if c.tbl.copyColumns[i] != col {
				t.Fatalf("%s: copyColumns[%d] = %q, want %q", c.tbl.name, i, c.tbl.copyColumns[i], col)
			}
		}
	}
}

func TestCreateDoesNotGateTableNameOnOptionalTablespace(t *testing.T) {
	// Regression guard for the earlier bug where the table name itself
	// was nested inside the optional tablespace segment.
	vars := sqltemplate.Vars{Prefix: "planet_osm"} // no tablespaces set
	for _, tbl := range []tableSQL{
		nodesTableSQL("double precision").expand(vars),
		waysTableSQL().expand(vars),
		relsTableSQL().expand(vars),
	} {
		if !strings.Contains(tbl.create, tbl.name) {
			t.Fatalf("%s: create statement is missing the table name entirely: %q", tbl.name, tbl.create)
		}
	}
}
