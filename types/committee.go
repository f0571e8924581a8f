package types

// Member is one node registered in an asset's committee.
type Member struct {
	NodeID NodeID `json:"node_id"`
	PubKey string `json:"pub_key"`
}

// Committee is the ordered set of nodes jointly responsible for one
// asset's consensus. Order is part of the registered configuration: it
// determines leader rotation, so all honest nodes must hold the same
// ordering.
type Committee struct {
	AssetID AssetID  `json:"asset_id"`
	Members []Member `json:"members"`
}

// Size returns the number of committee members.
func (c *Committee) Size() int {
	return len(c.Members)
}

// Leader returns the deterministic leader for a round: the member at
// round mod size in the registered ordering.
func (c *Committee) Leader(round uint64) Member {
	return c.Members[int(round%uint64(len(c.Members)))]
}

// SupermajorityThreshold returns the minimum number of distinct signers
// for a valid quorum certificate: more than 2/3 of the committee.
func (c *Committee) SupermajorityThreshold() int {
	return (2*len(c.Members))/3 + 1
}

// Member returns the registered member with the given node id, or nil.
func (c *Committee) Member(id NodeID) *Member {
	for i := range c.Members {
		if c.Members[i].NodeID == id {
			return &c.Members[i]
		}
	}
	return nil
}
