package authsig

import (
	"bytes"
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Schema tags identify the exact parameter layout covered by a digest. A
// layout change requires a new tag; old signatures never reinterpret under a
// new layout.
const (
	SchemaSupplyV1      = "LENDGATE_SUPPLY_V1"
	SchemaBorrowV1      = "LENDGATE_BORROW_V1"
	SchemaWithdrawV1    = "LENDGATE_WITHDRAW_V1"
	SchemaClaimV1       = "LENDGATE_CLAIM_V1"
	SchemaForceCloseV1  = "LENDGATE_FORCE_CLOSE_V1"
	SchemaFinalizeV1    = "LENDGATE_FINALIZE_V1"
	SchemaDelegationV1  = "LENDGATE_DELEGATION_V1"
	SchemaEndorsementV1 = "LENDGATE_ENDORSE_V1"
)

const domainTag = "LENDGATE_AUTH_V1"

// SignatureLength is the expected raw wire size of an (r, s, v) signature.
const SignatureLength = 65

// Codec builds domain-bound, schema-bound digests and recovers signer
// identities. Each verifying component constructs its own codec so that the
// registry and the settlement engine never share a signing domain.
type Codec struct {
	chainID  uint64
	verifier [20]byte
	domain   [32]byte
}

// NewCodec derives the domain separator from the network identity and the
// verifying component's address.
func NewCodec(chainID uint64, verifier [20]byte) *Codec {
	c := &Codec{chainID: chainID, verifier: verifier}
	buf := make([]byte, 0, len(domainTag)+8+len(verifier))
	buf = append(buf, domainTag...)
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)
	buf = append(buf, chain[:]...)
	buf = append(buf, verifier[:]...)
	copy(c.domain[:], ethcrypto.Keccak256(buf))
	return c
}

// DomainSeparator returns the separator bound into every digest the codec
// produces.
func (c *Codec) DomainSeparator() [32]byte { return c.domain }

func (c *Codec) digest(schemaHash []byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(c.domain[:], schemaHash))
	return out
}

func schemaBuffer(tag string) *bytes.Buffer {
	buf := bytes.NewBuffer(nil)
	if err := binary.Write(buf, binary.BigEndian, uint32(len(tag))); err != nil {
		panic(err)
	}
	buf.WriteString(tag)
	return buf
}

func writeAmount(buf *bytes.Buffer, amount *big.Int) {
	word := new(uint256.Int)
	if amount != nil && amount.Sign() > 0 {
		word.SetFromBig(amount)
	}
	b32 := word.Bytes32()
	buf.Write(b32[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

// SupplyDigest covers a supply authorization bound to the loan nonce.
func (c *Codec) SupplyDigest(principal [20]byte, market [32]byte, assets *big.Int, nonce uint64) [32]byte {
	buf := schemaBuffer(SchemaSupplyV1)
	buf.Write(principal[:])
	buf.Write(market[:])
	writeAmount(buf, assets)
	writeUint64(buf, nonce)
	return c.digest(ethcrypto.Keccak256(buf.Bytes()))
}

// BorrowDigest covers a borrow authorization bound to the action nonce and a
// submission deadline.
func (c *Codec) BorrowDigest(principal [20]byte, assets *big.Int, recipient [20]byte, nonce uint64, deadline int64) [32]byte {
	buf := schemaBuffer(SchemaBorrowV1)
	buf.Write(principal[:])
	writeAmount(buf, assets)
	buf.Write(recipient[:])
	writeUint64(buf, nonce)
	writeInt64(buf, deadline)
	return c.digest(ethcrypto.Keccak256(buf.Bytes()))
}

// WithdrawDigest covers a full-collateral exit authorization.
func (c *Codec) WithdrawDigest(principal [20]byte, assets *big.Int, nonce uint64, deadline int64) [32]byte {
	buf := schemaBuffer(SchemaWithdrawV1)
	buf.Write(principal[:])
	writeAmount(buf, assets)
	writeUint64(buf, nonce)
	writeInt64(buf, deadline)
	return c.digest(ethcrypto.Keccak256(buf.Bytes()))
}

// ClaimDigest covers a credit payout authorization.
func (c *Codec) ClaimDigest(principal, recipient [20]byte, nonce uint64, deadline int64) [32]byte {
	buf := schemaBuffer(SchemaClaimV1)
	buf.Write(principal[:])
	buf.Write(recipient[:])
	writeUint64(buf, nonce)
	writeInt64(buf, deadline)
	return c.digest(ethcrypto.Keccak256(buf.Bytes()))
}

// ForceCloseDigest covers a validator approval to settle a position by full
// repayment rather than liquidation.
func (c *Codec) ForceCloseDigest(principal [20]byte, tradeID [32]byte) [32]byte {
	buf := schemaBuffer(SchemaForceCloseV1)
	buf.Write(principal[:])
	buf.Write(tradeID[:])
	return c.digest(ethcrypto.Keccak256(buf.Bytes()))
}

// FinalizeDigest covers a validator approval to recover stranded collateral
// from a fully repaid position.
func (c *Codec) FinalizeDigest(positionID [32]byte, principal [20]byte) [32]byte {
	buf := schemaBuffer(SchemaFinalizeV1)
	buf.Write(positionID[:])
	buf.Write(principal[:])
	return c.digest(ethcrypto.Keccak256(buf.Bytes()))
}

// DelegationDigest covers the one-time registration delegation proof.
func (c *Codec) DelegationDigest(principal [20]byte, deadline int64) [32]byte {
	buf := schemaBuffer(SchemaDelegationV1)
	buf.Write(principal[:])
	writeInt64(buf, deadline)
	return c.digest(ethcrypto.Keccak256(buf.Bytes()))
}

// EndorsementDigest lets a validator co-sign over the hash of a prior
// authorizer signature, composing two approvals without embedding the raw
// signature bytes in the new digest.
func (c *Codec) EndorsementDigest(sigHash [32]byte) [32]byte {
	buf := schemaBuffer(SchemaEndorsementV1)
	buf.Write(sigHash[:])
	return c.digest(ethcrypto.Keccak256(buf.Bytes()))
}

// SignatureHash returns the keccak256 hash of raw signature bytes, used as the
// payload of an endorsement digest.
func SignatureHash(sig []byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(sig))
	return out
}

// RecoverSigner recovers the signer address from a digest and a 65-byte
// (r, s, v) signature. Malformed input yields the zero address rather than an
// error; callers compare against the expected signer and reject on mismatch.
func RecoverSigner(digest [32]byte, sig []byte) [20]byte {
	var signer [20]byte
	if len(sig) != SignatureLength {
		return signer
	}
	pubKey, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return signer
	}
	copy(signer[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	return signer
}
