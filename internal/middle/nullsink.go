package middle

import "context"

// NullStore implements Querier as a pure no-op: every read returns "not
// found", every write succeeds and is discarded. Grounded on
// output-null.hpp's dummy output layer, which exists solely to exercise
// the surrounding control flow (enqueue/pending/commit ordering) without
// a real middle or database backing it. NullStore serves the same role
// for code built against Querier: tests can drive AppendProcessor-style
// logic and assert on call counts without standing up postgres.
type NullStore struct {
	NodeGets     int
	WayGets      int
	RelationGets int
	NodeUpdates  int
	WayUpdates   int
	RelUpdates   int
	NodeDeletes  int
	WayDeletes   int
	RelDeletes   int
}

func (s *NullStore) GetNode(ctx context.Context, id int64) (*RawNode, error) {
	s.NodeGets++
	return nil, nil
}

func (s *NullStore) GetWay(ctx context.Context, id int64) (*RawWay, error) {
	s.WayGets++
	return nil, nil
}

func (s *NullStore) GetRelation(ctx context.Context, id int64) (*RawRelation, error) {
	s.RelationGets++
	return nil, nil
}

func (s *NullStore) GetWaysForNode(ctx context.Context, nodeID int64) ([]int64, error) {
	return nil, nil
}

func (s *NullStore) GetRelationsForMember(ctx context.Context, memberType string, memberRef int64) ([]int64, error) {
	return nil, nil
}

func (s *NullStore) UpdateNode(ctx context.Context, node *RawNode) error {
	s.NodeUpdates++
	return nil
}

func (s *NullStore) UpdateWay(ctx context.Context, way *RawWay) error {
	s.WayUpdates++
	return nil
}

func (s *NullStore) UpdateRelation(ctx context.Context, rel *RawRelation) error {
	s.RelUpdates++
	return nil
}

func (s *NullStore) DeleteNode(ctx context.Context, id int64) error {
	s.NodeDeletes++
	return nil
}

func (s *NullStore) DeleteWay(ctx context.Context, id int64) error {
	s.WayDeletes++
	return nil
}

func (s *NullStore) DeleteRelation(ctx context.Context, id int64) error {
	s.RelDeletes++
	return nil
}

var _ Querier = (*NullStore)(nil)

// NoopWayCallback and NoopRelationCallback satisfy WayCallback/
// RelationCallback for tests that drive IterateWays/IterateRelations
// purely to exercise tracker drain order and don't care what each
// popped id resolves to. Querier's no-op stand-in is NullStore above;
// these exist separately because WayCallback/RelationCallback are plain
// function types, not interface methods, so there's nothing for
// NullStore itself to implement for them.
func NoopWayCallback(id int64, tags map[string]string, nodes []int64, exists bool) error {
	return nil
}

func NoopRelationCallback(id int64, members []RelationMember, tags map[string]string, exists bool) error {
	return nil
}
