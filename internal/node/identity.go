package node

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is a node's signing identity. Immutable for the process
// lifetime.
type Identity struct {
	NodeID string
	priv   crypto.PrivKey
}

// identityFile is the persisted JSON form. The private key is the
// protobuf-marshaled libp2p key, base64 encoded.
type identityFile struct {
	NodeID     string `json:"node_id"`
	PrivateKey string `json:"private_key"`
}

// PrivateKey returns the node's signing key.
func (id *Identity) PrivateKey() crypto.PrivKey {
	return id.priv
}

// PublicKey returns the verification key remote peers use.
func (id *Identity) PublicKey() crypto.PubKey {
	return id.priv.GetPublic()
}

// LoadOrCreateIdentity returns the identity stored at path, creating
// and persisting a fresh ed25519 keypair on first run. The file is
// written 0600: it holds the private key.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return parseIdentity(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	id, err := newIdentity(priv)
	if err != nil {
		return nil, err
	}
	if err := writeIdentity(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

// EphemeralIdentity generates an identity that is never persisted.
// Used for simulated peers.
func EphemeralIdentity() (*Identity, error) {
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return newIdentity(priv)
}

func newIdentity(priv crypto.PrivKey) (*Identity, error) {
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive node id: %w", err)
	}
	return &Identity{NodeID: pid.String(), priv: priv}, nil
}

func parseIdentity(data []byte) (*Identity, error) {
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(f.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode identity key: %w", err)
	}
	priv, err := crypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal identity key: %w", err)
	}
	id, err := newIdentity(priv)
	if err != nil {
		return nil, err
	}
	// The stored node id must still derive from the stored key, or
	// the file was tampered with or corrupted.
	if f.NodeID != id.NodeID {
		return nil, fmt.Errorf("identity file node id %s does not match key-derived id %s", f.NodeID, id.NodeID)
	}
	return id, nil
}

func writeIdentity(path string, id *Identity) error {
	raw, err := crypto.MarshalPrivateKey(id.priv)
	if err != nil {
		return fmt.Errorf("marshal identity key: %w", err)
	}
	data, err := json.MarshalIndent(identityFile{
		NodeID:     id.NodeID,
		PrivateKey: base64.StdEncoding.EncodeToString(raw),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
