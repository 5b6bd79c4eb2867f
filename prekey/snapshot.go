package prekey

import (
	"errors"
	"time"

	"github.com/opd-ai/molch/crypto"
)

// Snapshot is the serializable form of a prekey store.
type Snapshot struct {
	Nodes      []NodeSnapshot `json:"nodes"`
	Deprecated []NodeSnapshot `json:"deprecated,omitempty"`
}

// NodeSnapshot is one serialized prekey pair.
type NodeSnapshot struct {
	PublicKey  []byte    `json:"public_key"`
	PrivateKey []byte    `json:"private_key"`
	Expiration time.Time `json:"expiration"`
}

var errCorruptSnapshot = errors.New("prekey: corrupt snapshot")

// Export captures the full store contents.
func (s *Store) Export() *Snapshot {
	snapshot := &Snapshot{Nodes: make([]NodeSnapshot, 0, Amount)}
	for i := range s.nodes {
		snapshot.Nodes = append(snapshot.Nodes, exportNode(&s.nodes[i]))
	}
	for i := range s.deprecated {
		snapshot.Deprecated = append(snapshot.Deprecated, exportNode(&s.deprecated[i]))
	}
	return snapshot
}

func exportNode(n *node) NodeSnapshot {
	return NodeSnapshot{
		PublicKey:  append([]byte(nil), n.keyPair.Public[:]...),
		PrivateKey: append([]byte(nil), n.keyPair.Private[:]...),
		Expiration: n.expiration,
	}
}

// Import reconstructs a store from a snapshot.
func Import(snapshot *Snapshot) (*Store, error) {
	if snapshot == nil || len(snapshot.Nodes) != Amount {
		return nil, errCorruptSnapshot
	}

	store := &Store{}
	for i := range snapshot.Nodes {
		restored, err := importNode(&snapshot.Nodes[i])
		if err != nil {
			return nil, err
		}
		store.nodes[i] = restored
	}
	for i := range snapshot.Deprecated {
		restored, err := importNode(&snapshot.Deprecated[i])
		if err != nil {
			return nil, err
		}
		store.deprecated = append(store.deprecated, restored)
	}

	store.updateOldestExpiration()
	store.updateOldestDeprecatedExpiration()

	return store, nil
}

func importNode(snapshot *NodeSnapshot) (node, error) {
	var restored node
	if len(snapshot.PublicKey) != crypto.PublicKeySize || len(snapshot.PrivateKey) != crypto.PrivateKeySize {
		return restored, errCorruptSnapshot
	}
	copy(restored.keyPair.Public[:], snapshot.PublicKey)
	copy(restored.keyPair.Private[:], snapshot.PrivateKey)
	restored.expiration = snapshot.Expiration
	return restored, nil
}
