package store

// Watch contains the fields for an organization watch saved to DB.
type Watch struct {
	ID     []byte `json:"id"`
	Label  string `json:"label"`
	Wallet string `json:"wallet"`
}

// WatchedOrgs contains the organization watches saved for one network.
type WatchedOrgs struct {
	Net  string  `json:"net"`
	Orgs []Watch `json:"orgs"`
}

// Cursor contains the scan position saved to DB for a network: the last scanned block, a trailing ring of block
// hashes used to detect chain reorganizations, and the ring index of the newest hash.
type Cursor struct {
	Block  uint64                 `json:"block" bson:"block"`
	Hashes []string               `json:"hashes" bson:"hashes"`
	Idx    int                    `json:"idx" bson:"idx"`
	Orgs   map[string]interface{} `json:"orgs" bson:"orgs"`
}
