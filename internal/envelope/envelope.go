package envelope

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Envelope wraps a payload with its signer identity, a per-signer
// monotonic nonce, and an ed25519 signature.
//
// Immutable once signed. The signature covers the domain, signer ID,
// nonce, and payload (see signingBytes), so no field can be swapped
// without invalidating it.
type Envelope struct {
	SignerID  string `json:"signer_id"`
	Nonce     uint64 `json:"nonce"`
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
}

// Signer produces envelopes for one logical stream.
//
// Each Signer owns its own NonceSource, so two streams signed by the
// same key (heartbeats, receipts) never share a nonce sequence.
//
// Thread-safety: Sign is safe for concurrent use (the nonce source is
// atomic; the key is immutable).
type Signer struct {
	priv   crypto.PrivKey
	id     string
	domain string
	nonces *NonceSource
}

// NewSigner creates a Signer for the given key and domain.
// The signer ID is the libp2p peer ID derived from the key, which
// self-certifies the public key.
func NewSigner(priv crypto.PrivKey, domain string) (*Signer, error) {
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive signer ID: %w", err)
	}
	return &Signer{
		priv:   priv,
		id:     pid.String(),
		domain: domain,
		nonces: NewNonceSource(),
	}, nil
}

// ID returns the signer's identity (libp2p peer ID string).
func (s *Signer) ID() string {
	return s.id
}

// ResumeNonce advances the signer's nonce sequence past nonces issued
// before a restart.
func (s *Signer) ResumeNonce(last uint64) {
	s.nonces.Advance(last)
}

// PublicKey returns the signer's public key for distribution to
// verifiers.
func (s *Signer) PublicKey() crypto.PubKey {
	return s.priv.GetPublic()
}

// Sign wraps payload in a signed envelope with a fresh monotonic nonce.
func (s *Signer) Sign(payload []byte) (*Envelope, error) {
	nonce := s.nonces.Next()
	sig, err := s.priv.Sign(signingBytes(s.domain, s.id, nonce, payload))
	if err != nil {
		return nil, fmt.Errorf("sign envelope (nonce=%d): %w", nonce, err)
	}
	return &Envelope{
		SignerID:  s.id,
		Nonce:     nonce,
		Payload:   payload,
		Signature: sig,
	}, nil
}

// Verify checks an envelope's signature against a known public key.
//
// The public key must derive the envelope's SignerID - this binds the
// key to the claimed identity before the signature is even checked.
// Returns SignatureError on any mismatch; replay checking is the
// ReplayGuard's job, not Verify's.
func Verify(domain string, env *Envelope, pub crypto.PubKey) error {
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return &SignatureError{SignerID: env.SignerID, Reason: fmt.Sprintf("derive peer ID: %v", err)}
	}
	if pid.String() != env.SignerID {
		return &SignatureError{SignerID: env.SignerID, Reason: "public key does not match signer ID"}
	}

	ok, err := pub.Verify(signingBytes(domain, env.SignerID, env.Nonce, env.Payload), env.Signature)
	if err != nil {
		return &SignatureError{SignerID: env.SignerID, Reason: fmt.Sprintf("verify: %v", err)}
	}
	if !ok {
		return &SignatureError{SignerID: env.SignerID, Reason: "signature mismatch"}
	}
	return nil
}
