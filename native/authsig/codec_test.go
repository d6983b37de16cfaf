package authsig

import (
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lendgate/crypto"
)

func makeAddress(suffix byte) [20]byte {
	var addr [20]byte
	addr[19] = suffix
	return addr
}

func makeMarket(suffix byte) [32]byte {
	var id [32]byte
	id[31] = suffix
	return id
}

func TestDigestDeterministic(t *testing.T) {
	codec := NewCodec(1, makeAddress(0x01))
	principal := makeAddress(0x02)
	market := makeMarket(0x03)

	a := codec.SupplyDigest(principal, market, big.NewInt(1_000), 7)
	b := codec.SupplyDigest(principal, market, big.NewInt(1_000), 7)
	if a != b {
		t.Fatalf("same inputs produced different digests")
	}
}

func TestDigestBindsEveryParameter(t *testing.T) {
	codec := NewCodec(1, makeAddress(0x01))
	principal := makeAddress(0x02)
	market := makeMarket(0x03)
	base := codec.SupplyDigest(principal, market, big.NewInt(1_000), 7)

	variants := [][32]byte{
		codec.SupplyDigest(makeAddress(0x04), market, big.NewInt(1_000), 7),
		codec.SupplyDigest(principal, makeMarket(0x05), big.NewInt(1_000), 7),
		codec.SupplyDigest(principal, market, big.NewInt(1_001), 7),
		codec.SupplyDigest(principal, market, big.NewInt(1_000), 8),
	}
	for i, digest := range variants {
		if digest == base {
			t.Fatalf("variant %d collided with base digest", i)
		}
	}
}

func TestDomainSeparatesVerifiers(t *testing.T) {
	registryCodec := NewCodec(1, makeAddress(0x01))
	settlementCodec := NewCodec(1, makeAddress(0x02))
	otherChain := NewCodec(2, makeAddress(0x01))
	principal := makeAddress(0x03)

	a := registryCodec.ForceCloseDigest(principal, makeMarket(0x04))
	b := settlementCodec.ForceCloseDigest(principal, makeMarket(0x04))
	c := otherChain.ForceCloseDigest(principal, makeMarket(0x04))
	if a == b {
		t.Fatalf("different verifiers share a digest")
	}
	if a == c {
		t.Fatalf("different chains share a digest")
	}
}

func TestSchemasDoNotCollide(t *testing.T) {
	codec := NewCodec(1, makeAddress(0x01))
	principal := makeAddress(0x02)
	id := makeMarket(0x03)

	if codec.ForceCloseDigest(principal, id) == codec.FinalizeDigest(id, principal) {
		t.Fatalf("force-close and finalize digests collided")
	}
}

func TestRecoverSignerRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var expected [20]byte
	copy(expected[:], key.PubKey().Address().Bytes())

	codec := NewCodec(1, makeAddress(0x01))
	digest := codec.BorrowDigest(makeAddress(0x02), big.NewInt(500), makeAddress(0x03), 0, 100)
	sig, err := ethcrypto.Sign(digest[:], key.PrivateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if got := RecoverSigner(digest, sig); got != expected {
		t.Fatalf("recovered %x, want %x", got, expected)
	}
}

func TestRecoverSignerMalformed(t *testing.T) {
	codec := NewCodec(1, makeAddress(0x01))
	digest := codec.DelegationDigest(makeAddress(0x02), 100)

	var zero [20]byte
	if got := RecoverSigner(digest, nil); got != zero {
		t.Fatalf("nil signature recovered %x", got)
	}
	if got := RecoverSigner(digest, make([]byte, 64)); got != zero {
		t.Fatalf("short signature recovered %x", got)
	}
	bad := make([]byte, SignatureLength)
	bad[64] = 0x7f
	if got := RecoverSigner(digest, bad); got != zero {
		t.Fatalf("garbage signature recovered %x", got)
	}
}

func TestEndorsementCoversSignatureHash(t *testing.T) {
	codec := NewCodec(1, makeAddress(0x01))
	sig := make([]byte, SignatureLength)
	sig[0] = 0x11
	other := make([]byte, SignatureLength)
	other[0] = 0x22

	if codec.EndorsementDigest(SignatureHash(sig)) == codec.EndorsementDigest(SignatureHash(other)) {
		t.Fatalf("endorsement digests collided across distinct signatures")
	}
}
