package seal

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// authTokenTag is the domain tag of the tagged hash that produces the
	// auth token of a seal.
	authTokenTag = []byte("urn:lnp-bp:seals:secret#2024-02-03")

	// noiseTag is the domain tag used when deriving fresh seal blinding
	// from a wallet's noise seed.
	noiseTag = []byte("urn:lnp-bp:seals:noise#2024-02-03")
)

const (
	// AuthTokenVersion is the base58check version byte of an auth token
	// in its text form.
	AuthTokenVersion byte = 0x53

	// WoutPrefix is the literal that marks a witness output placeholder in
	// place of a transaction id.
	WoutPrefix = "~"
)

// PrimaryKind denotes how the primary location of a seal is given.
type PrimaryKind uint8

const (
	// PrimaryExtern is a seal defined over an explicit outpoint.
	PrimaryExtern PrimaryKind = 0

	// PrimaryWout is a seal pointing at an output of the yet unknown
	// witness transaction that closes the seals of the operation.
	PrimaryWout PrimaryKind = 1
)

// Primary is the main location of a seal.
type Primary struct {
	// Kind tells which of the fields below is populated.
	Kind PrimaryKind

	// Outpoint is the explicit outpoint of an extern primary.
	Outpoint wire.OutPoint

	// Vout is the witness output index of a placeholder primary.
	Vout uint32
}

// Extern returns a primary location over an explicit outpoint.
func Extern(op wire.OutPoint) Primary {
	return Primary{
		Kind:     PrimaryExtern,
		Outpoint: op,
	}
}

// Wout returns a witness output placeholder for the given output index.
func Wout(vout uint32) Primary {
	return Primary{
		Kind: PrimaryWout,
		Vout: vout,
	}
}

// IsWout returns true if the location still refers to the witness
// transaction.
func (p Primary) IsWout() bool {
	return p.Kind == PrimaryWout
}

// Resolve turns a placeholder into an explicit outpoint once the witness
// transaction id is known. Extern primaries are returned untouched.
func (p Primary) Resolve(witness chainhash.Hash) Primary {
	if p.Kind != PrimaryWout {
		return p
	}

	return Extern(wire.OutPoint{Hash: witness, Index: p.Vout})
}

// String returns the text form of the primary location.
func (p Primary) String() string {
	if p.Kind == PrimaryWout {
		return fmt.Sprintf("%s:%d", WoutPrefix, p.Vout)
	}

	return p.Outpoint.String()
}

// SecondaryKind denotes the kind of the secondary seal extension.
type SecondaryKind uint8

const (
	// SecondaryNoise is a blinding value hiding the primary location.
	SecondaryNoise SecondaryKind = 0

	// SecondaryFallback is an outpoint used when the primary placeholder
	// can't be resolved.
	SecondaryFallback SecondaryKind = 1
)

// Noise is the 32 byte blinding value of a seal.
type Noise [32]byte

// String returns the hex form of the noise.
func (n Noise) String() string {
	return fmt.Sprintf("%x", n[:])
}

// RandomNoise returns a fresh random blinding value.
func RandomNoise() (Noise, error) {
	var n Noise
	if _, err := rand.Read(n[:]); err != nil {
		return n, err
	}

	return n, nil
}

// DeriveNoise deterministically derives the blinding of a new seal from the
// wallet noise seed, the wallet nonce, the seal location and the index of
// the seal within the operation creating it.
func DeriveNoise(seed [32]byte, nonce uint64, primary Primary,
	index uint32) Noise {

	var b bytes.Buffer
	b.Write(seed[:])

	var buf [8]byte
	_ = writeUint64(&b, nonce, &buf)
	_ = encodePrimary(&b, primary, &buf)
	_ = writeUint32(&b, index, &buf)

	return Noise(*chainhash.TaggedHash(noiseTag, b.Bytes()))
}

// Secondary is the extension of a seal: either a blinding value or a
// fallback outpoint.
type Secondary struct {
	// Kind tells which of the fields below is populated.
	Kind SecondaryKind

	// Noise is set for blinded seals.
	Noise Noise

	// Fallback is set for seals carrying a fallback outpoint.
	Fallback wire.OutPoint
}

// WithNoise returns a blinding extension.
func WithNoise(n Noise) Secondary {
	return Secondary{Kind: SecondaryNoise, Noise: n}
}

// WithFallback returns a fallback outpoint extension.
func WithFallback(op wire.OutPoint) Secondary {
	return Secondary{Kind: SecondaryFallback, Fallback: op}
}

// String returns the text form of the secondary extension.
func (s Secondary) String() string {
	if s.Kind == SecondaryFallback {
		return s.Fallback.String()
	}

	return s.Noise.String()
}

// Seal is a revealed single-use seal.
type Seal struct {
	Primary   Primary
	Secondary Secondary
}

// NewRevealed creates a blinded seal over an explicit outpoint.
func NewRevealed(op wire.OutPoint, noise Noise) Seal {
	return Seal{
		Primary:   Extern(op),
		Secondary: WithNoise(noise),
	}
}

// NewWout creates a blinded seal pointing at an output of the witness
// transaction.
func NewWout(vout uint32, noise Noise) Seal {
	return Seal{
		Primary:   Wout(vout),
		Secondary: WithNoise(noise),
	}
}

// Resolve returns the seal with its witness placeholder replaced by the
// outpoint of the given witness transaction.
func (s Seal) Resolve(witness chainhash.Hash) Seal {
	return Seal{
		Primary:   s.Primary.Resolve(witness),
		Secondary: s.Secondary,
	}
}

// Outpoint returns the outpoint closing the seal. For a placeholder the
// witness transaction id must be supplied.
func (s Seal) Outpoint(witness chainhash.Hash) wire.OutPoint {
	return s.Primary.Resolve(witness).Outpoint
}

// AuthToken returns the concealed identifier of the seal.
func (s Seal) AuthToken() AuthToken {
	var b bytes.Buffer
	_ = s.Encode(&b)

	return AuthToken(*chainhash.TaggedHash(authTokenTag, b.Bytes()))
}

// Conceal is an alias of AuthToken that reads better at call sites hiding
// the seal in an operation.
func (s Seal) Conceal() AuthToken {
	return s.AuthToken()
}

// Less orders seals by their canonical encoding.
func (s Seal) Less(o Seal) bool {
	var a, b bytes.Buffer
	_ = s.Encode(&a)
	_ = o.Encode(&b)

	return bytes.Compare(a.Bytes(), b.Bytes()) < 0
}

// String returns the seal literal `<primary>/<secondary>`.
func (s Seal) String() string {
	return s.Primary.String() + "/" + s.Secondary.String()
}

// AuthToken is the concealed form of a seal: a tagged hash committing to the
// primary location and the secondary extension.
type AuthToken [32]byte

// String returns the base58check text form of the token.
func (a AuthToken) String() string {
	return base58.CheckEncode(a[:], AuthTokenVersion)
}

// ParseAuthToken parses the base58check text form of an auth token.
func ParseAuthToken(s string) (AuthToken, error) {
	var token AuthToken

	payload, version, err := base58.CheckDecode(s)
	if err != nil {
		return token, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if version != AuthTokenVersion {
		return token, fmt.Errorf("%w: unknown version %#x",
			ErrInvalidToken, version)
	}
	if len(payload) != len(token) {
		return token, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidToken, len(token), len(payload))
	}

	copy(token[:], payload)
	return token, nil
}
