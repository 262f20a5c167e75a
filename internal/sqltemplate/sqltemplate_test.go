package sqltemplate

import "testing"

func TestExpandBasicSubstitutions(t *testing.T) {
	vars := Vars{Prefix: "planet_osm", TableTablespace: "fast", IndexTablespace: "idx", Unlogged: true}
	got := Expand("CREATE %m TABLE %p_nodes(id bigint)", vars)
	want := "CREATE UNLOGGED TABLE planet_osm_nodes(id bigint)"
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandUnloggedFalseYieldsNoToken(t *testing.T) {
	got := Expand("CREATE %m TABLE %p_x()", Vars{Prefix: "planet_osm"})
	want := "CREATE  TABLE planet_osm_x()"
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandOptionalSegmentDroppedWhenEmpty(t *testing.T) {
	tmpl := "id bigint PRIMARY KEY{ USING INDEX TABLESPACE %i}"
	got := Expand(tmpl, Vars{})
	want := "id bigint PRIMARY KEY"
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandOptionalSegmentKeptWhenSet(t *testing.T) {
	tmpl := "id bigint PRIMARY KEY{ USING INDEX TABLESPACE %i}"
	got := Expand(tmpl, Vars{IndexTablespace: "fastidx"})
	want := "id bigint PRIMARY KEY USING INDEX TABLESPACE fastidx"
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandTableNameOutsideOptionalSegment(t *testing.T) {
	// Regression guard: the table name itself must never be gated by an
	// optional tablespace segment, only the tablespace clause should be.
	tmpl := "CREATE %m TABLE %p_nodes(id bigint PRIMARY KEY{ USING INDEX TABLESPACE %i}, lat double precision){ TABLESPACE %t}"
	got := Expand(tmpl, Vars{Prefix: "planet_osm"})
	want := "CREATE  TABLE planet_osm_nodes(id bigint PRIMARY KEY, lat double precision)"
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandMultipleOptionalSegmentsIndependentlyElided(t *testing.T) {
	tmpl := "x{ A %i}{ B %t}"

	if got, want := Expand(tmpl, Vars{TableTablespace: "main"}), "x B main"; got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
	if got, want := Expand(tmpl, Vars{IndexTablespace: "idx"}), "x A idx"; got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandUnmatchedPercentEmittedVerbatim(t *testing.T) {
	got := Expand("50%x off", Vars{})
	want := "50%x off"
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandUnterminatedSegmentFlushesContent(t *testing.T) {
	got := Expand("abc{def %p", Vars{Prefix: "p"})
	want := "abcdef p"
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}
