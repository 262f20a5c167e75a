package middle

import "time"

// RawNode represents an OSM node as read from the PBF/OSC parser
// layer. The middle store's own public contract (LoadNodes/UpdateNode/NodeGetList/...)
// only consumes (id, lat, lon, tags); Version/Changeset/Timestamp/User/UID
// are carried through by the parser/output layers for the
// ExtraAttributes feature and are not part of the data this package
// persists.
type RawNode struct {
	ID        int64
	Lat       int32 // scaled fixed-point, see ScaleCoord/UnscaleCoord
	Lon       int32 // scaled fixed-point, see ScaleCoord/UnscaleCoord
	Tags      map[string]string
	Version   int32
	Changeset int64
	Timestamp time.Time
	User      string
	UID       int32
}

// RawWay represents an OSM way as read from the parser layer. See
// RawNode for why Version/Changeset/etc are present but ignored by the
// middle store's core contract.
type RawWay struct {
	ID        int64
	Nodes     []int64 // ordered node ID array
	Tags      map[string]string
	Version   int32
	Changeset int64
	Timestamp time.Time
	User      string
	UID       int32

	// Coords holds each Nodes[i]'s resolved coordinate, populated by
	// GetWay (§4.5 "way_get(id) → (tags, coords[])") via NodeGetList.
	// len(Coords) can be shorter than len(Nodes) when some member nodes
	// no longer exist — missing nodes are elided, not zero-filled, so
	// Coords is always in way order but is not 1:1 indexable against
	// Nodes. Never populated by LoadWays/UpdateWay, which only persist
	// the node-id list.
	Coords []NodeCoord
}

// NodeCoord is a resolved node coordinate in the same scaled
// fixed-point form as RawNode.Lat/Lon.
type NodeCoord struct {
	Lat int32
	Lon int32
}

// RelationMember represents a member of an OSM relation. Type is the
// single-character type tag used throughout the middle store's wire
// encoding: "n" (node), "w" (way), or "r" (relation) — see §3 and
// relations_set/relations_get in the original middle-pgsql
// implementation, which this package's Relation partitioning is
// grounded on.
type RelationMember struct {
	Type string
	Ref  int64
	Role string
}

// RawRelation represents an OSM relation as read from the parser
// layer, plus the three derived indexing fields §3 specifies:
// WayOff, RelOff and Parts. A RawRelation read back from the store via
// GetRelation always has these three fields populated and consistent
// with Members; a RawRelation built by the parser layer for
// LoadRelations/UpdateRelation does not need to set them — those
// recompute them from Members.
type RawRelation struct {
	ID        int64
	Members   []RelationMember
	Tags      map[string]string
	Version   int32
	Changeset int64
	Timestamp time.Time
	User      string
	UID       int32

	// WayOff is the count of node-members: Parts[0:WayOff] are node ids.
	WayOff int
	// RelOff is WayOff plus the count of way-members:
	// Parts[WayOff:RelOff] are way ids, Parts[RelOff:] are relation ids.
	RelOff int
	// Parts is the concatenation node_ids ++ way_ids ++ rel_ids, in
	// original intra-group order.
	Parts []int64
}

// partitionMembers splits members into node/way/relation id groups,
// preserving intra-group order, and returns the concatenated parts
// slice together with the way_off/rel_off boundary offsets (§3, §4.5
// relation_set). Grounded on relations_set in middle-pgsql.cpp.
func partitionMembers(members []RelationMember) (parts []int64, wayOff, relOff int) {
	var nodeIDs, wayIDs, relIDs []int64
	for _, m := range members {
		switch m.Type {
		case "n":
			nodeIDs = append(nodeIDs, m.Ref)
		case "w":
			wayIDs = append(wayIDs, m.Ref)
		case "r":
			relIDs = append(relIDs, m.Ref)
		}
	}
	parts = make([]int64, 0, len(nodeIDs)+len(wayIDs)+len(relIDs))
	parts = append(parts, nodeIDs...)
	parts = append(parts, wayIDs...)
	parts = append(parts, relIDs...)
	wayOff = len(nodeIDs)
	relOff = len(nodeIDs) + len(wayIDs)
	return parts, wayOff, relOff
}

// serializeMembers renders a relation's members as the role-keyed tag
// map the backend stores: key = "<type-char><id>", value = role,
// matching relations_set's member_list encoding in the original.
func serializeMembers(members []RelationMember) map[string]string {
	out := make(map[string]string, len(members))
	for _, m := range members {
		out[m.Type+itoa(m.Ref)] = m.Role
	}
	return out
}

// deserializeMembers reconstructs an ordered member list from Parts /
// WayOff / RelOff (authoritative for ordering) plus the role-keyed tag
// map (authoritative for roles), matching relations_get in the
// original.
func deserializeMembers(raw map[string]string, parts []int64, wayOff, relOff int) []RelationMember {
	members := make([]RelationMember, 0, len(parts))
	for i, id := range parts {
		var typ string
		switch {
		case i < wayOff:
			typ = "n"
		case i < relOff:
			typ = "w"
		default:
			typ = "r"
		}
		members = append(members, RelationMember{Type: typ, Ref: id, Role: raw[typ+itoa(id)]})
	}
	return members
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// DefaultScale is the fixed-point divisor used by ScaleCoord/UnscaleCoord
// when no explicit scale is configured (10^7, matching the spec's
// default).
const DefaultScale = 10_000_000

// ScaleCoord converts a float64 lat/lon to a scaled fixed-point
// integer using DefaultScale.
func ScaleCoord(coord float64) int32 {
	return ScaleCoordWithScale(coord, DefaultScale)
}

// UnscaleCoord converts a scaled fixed-point integer back to float64
// using DefaultScale.
func UnscaleCoord(scaled int32) float64 {
	return UnscaleCoordWithScale(scaled, DefaultScale)
}

// ScaleCoordWithScale converts a float64 lat/lon to a scaled
// fixed-point integer using an explicit scale factor (the middle
// store's configured `scale` option, e.g. 1e7).
func ScaleCoordWithScale(coord float64, scale int64) int32 {
	return int32(coord * float64(scale))
}

// UnscaleCoordWithScale converts a scaled fixed-point integer back to
// float64 using an explicit scale factor.
func UnscaleCoordWithScale(scaled int32, scale int64) float64 {
	return float64(scaled) / float64(scale)
}
