package middle

import (
	"context"
	"testing"
)

func TestNullStoreReadsAreEmpty(t *testing.T) {
	ns := &NullStore{}
	ctx := context.Background()

	node, err := ns.GetNode(ctx, 1)
	if err != nil || node != nil {
		t.Fatalf("GetNode: want (nil, nil), got (%v, %v)", node, err)
	}
	if ns.NodeGets != 1 {
		t.Fatalf("NodeGets = %d, want 1", ns.NodeGets)
	}

	way, err := ns.GetWay(ctx, 1)
	if err != nil || way != nil {
		t.Fatalf("GetWay: want (nil, nil), got (%v, %v)", way, err)
	}

	rel, err := ns.GetRelation(ctx, 1)
	if err != nil || rel != nil {
		t.Fatalf("GetRelation: want (nil, nil), got (%v, %v)", rel, err)
	}

	if ids, err := ns.GetWaysForNode(ctx, 1); err != nil || ids != nil {
		t.Fatalf("GetWaysForNode: want (nil, nil), got (%v, %v)", ids, err)
	}
	if ids, err := ns.GetRelationsForMember(ctx, "n", 1); err != nil || ids != nil {
		t.Fatalf("GetRelationsForMember: want (nil, nil), got (%v, %v)", ids, err)
	}
}

func TestNullStoreWritesCountAndDiscard(t *testing.T) {
	ns := &NullStore{}
	ctx := context.Background()

	if err := ns.UpdateNode(ctx, &RawNode{ID: 1}); err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if err := ns.UpdateWay(ctx, &RawWay{ID: 1}); err != nil {
		t.Fatalf("UpdateWay: %v", err)
	}
	if err := ns.UpdateRelation(ctx, &RawRelation{ID: 1}); err != nil {
		t.Fatalf("UpdateRelation: %v", err)
	}
	if err := ns.DeleteNode(ctx, 1); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := ns.DeleteWay(ctx, 1); err != nil {
		t.Fatalf("DeleteWay: %v", err)
	}
	if err := ns.DeleteRelation(ctx, 1); err != nil {
		t.Fatalf("DeleteRelation: %v", err)
	}

	if ns.NodeUpdates != 1 || ns.WayUpdates != 1 || ns.RelUpdates != 1 {
		t.Fatalf("update counts = %d/%d/%d, want 1/1/1", ns.NodeUpdates, ns.WayUpdates, ns.RelUpdates)
	}
	if ns.NodeDeletes != 1 || ns.WayDeletes != 1 || ns.RelDeletes != 1 {
		t.Fatalf("delete counts = %d/%d/%d, want 1/1/1", ns.NodeDeletes, ns.WayDeletes, ns.RelDeletes)
	}

	// GetNode after UpdateNode still returns nil: NullStore never
	// retains what it's given.
	if node, _ := ns.GetNode(ctx, 1); node != nil {
		t.Fatalf("GetNode after UpdateNode = %v, want nil (NullStore discards writes)", node)
	}
}

func TestMiddleStoreSatisfiesQuerier(t *testing.T) {
	var _ Querier = (*MiddleStore)(nil)
	var _ Querier = (*NullStore)(nil)
}
