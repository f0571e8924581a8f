package types

import "testing"

func testCommittee(n int) *Committee {
	c := &Committee{AssetID: NewAssetID(TemplateID(1))}
	for i := 0; i < n; i++ {
		c.Members = append(c.Members, Member{
			NodeID: NodeID(string(rune('a' + i))),
			PubKey: "",
		})
	}
	return c
}

func TestCommitteeLeaderRotation(t *testing.T) {
	c := testCommittee(4)
	for round := uint64(0); round < 8; round++ {
		want := c.Members[round%4].NodeID
		if got := c.Leader(round).NodeID; got != want {
			t.Errorf("Expected leader %s for round %d, got %s", want, round, got)
		}
	}
}

func TestSupermajorityThreshold(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{1, 1},
		{2, 2},
		{3, 3},
		{4, 3},
		{5, 4},
		{7, 5},
		{10, 7},
	}
	for _, tc := range cases {
		c := testCommittee(tc.size)
		if got := c.SupermajorityThreshold(); got != tc.want {
			t.Errorf("Expected threshold %d for %d members, got %d", tc.want, tc.size, got)
		}
	}
}

func TestCommitteeMemberLookup(t *testing.T) {
	c := testCommittee(3)
	if m := c.Member("b"); m == nil || m.NodeID != "b" {
		t.Errorf("Expected member b, got %v", m)
	}
	if m := c.Member("z"); m != nil {
		t.Errorf("Expected nil for unregistered node, got %v", m)
	}
}
