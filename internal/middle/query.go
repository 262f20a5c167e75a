package middle

import "context"

// Querier is the read/write contract the diff-update layer (§4.6,
// AppendProcessor) needs from a middle store: look up and mutate
// nodes/ways/relations and find what depends on a changed id. It mirrors
// middle_query_t in the original program, which lets the output layer
// and its own output-null test double run against either a real
// database-backed middle or a no-op stand-in without caring which.
//
// *MiddleStore satisfies Querier; NullStore is the no-op stand-in used
// in tests that exercise diff-update control flow without a database.
type Querier interface {
	GetNode(ctx context.Context, id int64) (*RawNode, error)
	GetWay(ctx context.Context, id int64) (*RawWay, error)
	GetRelation(ctx context.Context, id int64) (*RawRelation, error)

	GetWaysForNode(ctx context.Context, nodeID int64) ([]int64, error)
	GetRelationsForMember(ctx context.Context, memberType string, memberRef int64) ([]int64, error)

	UpdateNode(ctx context.Context, node *RawNode) error
	UpdateWay(ctx context.Context, way *RawWay) error
	UpdateRelation(ctx context.Context, rel *RawRelation) error

	DeleteNode(ctx context.Context, id int64) error
	DeleteWay(ctx context.Context, id int64) error
	DeleteRelation(ctx context.Context, id int64) error
}

var _ Querier = (*MiddleStore)(nil)
