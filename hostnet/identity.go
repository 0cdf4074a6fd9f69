package hostnet

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

const identityFile = "heap_node_identity.json"

// persistentIdentity is the on-disk record of a node's libp2p keypair.
// This persists the peer's network identity only — it is unrelated to
// the heap's own "no persistence across process restarts" rule, and a
// freshly started Host still constructs an empty guard.Heap regardless
// of whether an identity file already exists.
type persistentIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

func saveIdentity(id *persistentIdentity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	return os.WriteFile(identityFile, data, 0600)
}

func loadIdentity() (*persistentIdentity, error) {
	data, err := os.ReadFile(identityFile)
	if err != nil {
		return nil, err
	}
	var id persistentIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("unmarshal identity: %w", err)
	}
	return &id, nil
}

// loadOrCreateKey loads a persisted private key, or generates and
// persists a fresh Ed25519 one if none is on disk yet.
func loadOrCreateKey() (crypto.PrivKey, error) {
	id, err := loadIdentity()
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(id.PrivKey)
		if err != nil {
			return nil, fmt.Errorf("unmarshal persisted key: %w", err)
		}
		return priv, nil
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}

	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	if err := saveIdentity(&persistentIdentity{PrivKey: privBytes, PeerID: pid.String()}); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}

	return priv, nil
}
