package envelope

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity and signatures.
// Version suffix enables future algorithm migration.
const (
	DomainHeartbeat = "omniswarm/heartbeat/v1"
	DomainReceipt   = "omniswarm/receipt/v1"
	DomainSnapshot  = "omniswarm/snapshot/v1"
)

// HashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ReceiptID computes the content-addressed ID for a payout receipt.
// The ID is stable across recomputation given the same inputs. The
// signature is intentionally EXCLUDED: the ID represents what was paid,
// not the attestation over it, so dispute recomputation can derive the
// same ID without the issuer's key.
func ReceiptID(taskID, nodeID string, amount int64, nonce uint64) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"task_id": taskID,
		"node_id": nodeID,
		"amount":  amount,
		"nonce":   nonce,
	})
	if err != nil {
		return "", fmt.Errorf("ReceiptID: failed to marshal: %w", err)
	}
	return HashWithDomain(DomainReceipt, canonical), nil
}

// signingBytes builds the exact byte sequence a signature covers.
// Layout: domain || 0x00 || len(signer) || signer || nonce(8 BE) || payload.
// The length prefix keeps signer/payload boundaries unambiguous.
func signingBytes(domain, signerID string, nonce uint64, payload []byte) []byte {
	buf := make([]byte, 0, len(domain)+1+4+len(signerID)+8+len(payload))
	buf = append(buf, domain...)
	buf = append(buf, 0x00)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(signerID)))
	buf = append(buf, signerID...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	buf = append(buf, payload...)
	return buf
}
