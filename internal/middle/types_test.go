package middle

import "testing"

func membersEqual(a, b []RelationMember) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPartitionMembersGroupsByType(t *testing.T) {
	members := []RelationMember{
		{Type: "w", Ref: 10, Role: "outer"},
		{Type: "n", Ref: 1, Role: ""},
		{Type: "r", Ref: 100, Role: "subarea"},
		{Type: "n", Ref: 2, Role: "stop"},
		{Type: "w", Ref: 11, Role: "inner"},
	}

	parts, wayOff, relOff := partitionMembers(members)

	wantParts := []int64{1, 2, 10, 11, 100}
	if len(parts) != len(wantParts) {
		t.Fatalf("parts = %v, want %v", parts, wantParts)
	}
	for i, v := range wantParts {
		if parts[i] != v {
			t.Fatalf("parts[%d] = %d, want %d (parts=%v)", i, parts[i], v, parts)
		}
	}
	if wayOff != 2 {
		t.Fatalf("wayOff = %d, want 2", wayOff)
	}
	if relOff != 4 {
		t.Fatalf("relOff = %d, want 4", relOff)
	}
}

func TestSerializeDeserializeMembersRoundTrip(t *testing.T) {
	members := []RelationMember{
		{Type: "n", Ref: 1, Role: "stop"},
		{Type: "n", Ref: 2, Role: ""},
		{Type: "w", Ref: 10, Role: "outer"},
		{Type: "w", Ref: 11, Role: "inner"},
		{Type: "r", Ref: 100, Role: "subarea"},
	}

	parts, wayOff, relOff := partitionMembers(members)
	raw := serializeMembers(members)
	got := deserializeMembers(raw, parts, wayOff, relOff)

	if !membersEqual(got, members) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, members)
	}
}

func TestDeserializeMembersPreservesIntraGroupOrder(t *testing.T) {
	// Members within the same type must come back in their original
	// relative order even though partitionMembers groups by type.
	members := []RelationMember{
		{Type: "n", Ref: 5, Role: ""},
		{Type: "w", Ref: 20, Role: ""},
		{Type: "n", Ref: 3, Role: ""},
		{Type: "w", Ref: 19, Role: ""},
	}
	parts, wayOff, relOff := partitionMembers(members)
	raw := serializeMembers(members)
	got := deserializeMembers(raw, parts, wayOff, relOff)

	wantOrder := []int64{5, 3, 20, 19}
	for i, m := range got {
		if m.Ref != wantOrder[i] {
			t.Fatalf("got[%d].Ref = %d, want %d (full: %+v)", i, m.Ref, wantOrder[i], got)
		}
	}
}

func TestScaleUnscaleCoordRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 51.5074, -0.1278, 90, -90, 179.9999999}
	for _, coord := range cases {
		scaled := ScaleCoord(coord)
		back := UnscaleCoord(scaled)
		if abs64(back-coord) > 1e-6 {
			t.Errorf("ScaleCoord/UnscaleCoord(%v) round trip = %v, drift too large", coord, back)
		}
	}
}

func TestScaleCoordWithExplicitScale(t *testing.T) {
	const scale = 1_000_000
	coord := 12.345678
	scaled := ScaleCoordWithScale(coord, scale)
	back := UnscaleCoordWithScale(scaled, scale)
	if abs64(back-coord) > 1e-5 {
		t.Fatalf("round trip with scale %d: got %v, want ~%v", scale, back, coord)
	}
}

func abs64(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
