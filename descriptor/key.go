package descriptor

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/exp/slices"
)

const (
	// KeychainExternal is the keychain of receive addresses.
	KeychainExternal uint32 = 0

	// KeychainInternal is the keychain of bitcoin change addresses.
	KeychainInternal uint32 = 1

	// KeychainOpret is the keychain of outputs receiving RGB state in
	// opret wallets.
	KeychainOpret uint32 = 9

	// KeychainTapret is the keychain of outputs receiving RGB state in
	// tapret wallets.
	KeychainTapret uint32 = 10

	// MaxIndex is the highest unhardened derivation index.
	MaxIndex = hdkeychain.HardenedKeyStart - 1
)

// DefaultKeychains are the keychains a wallet scans by default.
var DefaultKeychains = []uint32{
	KeychainExternal, KeychainInternal, KeychainOpret, KeychainTapret,
}

// IsRgbKeychain returns true for the keychains reserved to outputs carrying
// RGB state.
func IsRgbKeychain(keychain uint32) bool {
	return keychain == KeychainOpret || keychain == KeychainTapret
}

// Terminal is the last two derivation steps of a wallet key.
type Terminal struct {
	Keychain uint32
	Index    uint32
}

// String returns the terminal in the `/<keychain>/<index>` form.
func (t Terminal) String() string {
	return fmt.Sprintf("/%d/%d", t.Keychain, t.Index)
}

// Less orders terminals by keychain and then by index.
func (t Terminal) Less(o Terminal) bool {
	if t.Keychain != o.Keychain {
		return t.Keychain < o.Keychain
	}
	return t.Index < o.Index
}

// KeyOrigin is the master fingerprint and derivation path of an account
// key.
type KeyOrigin struct {
	Fingerprint [4]byte
	Path        []uint32
}

// MasterFingerprint returns the fingerprint in the form used by PSBT
// derivation records.
func (o *KeyOrigin) MasterFingerprint() uint32 {
	return binary.LittleEndian.Uint32(o.Fingerprint[:])
}

// String returns the `[fingerprint/path]` form of the origin.
func (o *KeyOrigin) String() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(hex.EncodeToString(o.Fingerprint[:]))
	for _, idx := range o.Path {
		b.WriteString("/")
		b.WriteString(formatIndex(idx))
	}
	b.WriteString("]")

	return b.String()
}

func formatIndex(idx uint32) string {
	if idx >= hdkeychain.HardenedKeyStart {
		return strconv.FormatUint(
			uint64(idx-hdkeychain.HardenedKeyStart), 10,
		) + "h"
	}

	return strconv.FormatUint(uint64(idx), 10)
}

func parseIndex(tok token, allowHardened bool) (uint32, error) {
	s := tok.s
	hardened := strings.HasSuffix(s, "h") || strings.HasSuffix(s, "'")
	if hardened {
		if !allowHardened {
			return 0, parseErr(ErrInvalidIndex, tok)
		}
		s = s[:len(s)-1]
	}

	idx, err := strconv.ParseUint(s, 10, 32)
	if err != nil || idx >= hdkeychain.HardenedKeyStart {
		return 0, parseErr(ErrInvalidIndex, tok)
	}

	if hardened {
		return uint32(idx) + hdkeychain.HardenedKeyStart, nil
	}
	return uint32(idx), nil
}

// KeyDescr is an account level extended public key with optional origin
// info and the keychains derived from it.
type KeyDescr struct {
	// Origin is the optional key origin.
	Origin *KeyOrigin

	// Xpub is the account extended public key.
	Xpub *hdkeychain.ExtendedKey

	// Keychains are the unhardened keychain indexes derived below the
	// account key.
	Keychains []uint32
}

// NewKeyDescr returns a key descriptor over the default keychains.
func NewKeyDescr(xpub *hdkeychain.ExtendedKey, origin *KeyOrigin) KeyDescr {
	return KeyDescr{
		Origin:    origin,
		Xpub:      xpub,
		Keychains: slices.Clone(DefaultKeychains),
	}
}

// String returns the `[origin]xpub/<k1;k2>/*` form of the key.
func (k KeyDescr) String() string {
	var b strings.Builder
	if k.Origin != nil {
		b.WriteString(k.Origin.String())
	}
	b.WriteString(k.Xpub.String())

	switch len(k.Keychains) {
	case 1:
		fmt.Fprintf(&b, "/%d", k.Keychains[0])

	default:
		b.WriteString("/<")
		for i, keychain := range k.Keychains {
			if i > 0 {
				b.WriteString(";")
			}
			fmt.Fprintf(&b, "%d", keychain)
		}
		b.WriteString(">")
	}
	b.WriteString("/*")

	return b.String()
}

// HasKeychain returns true if the keychain is derived by the descriptor.
func (k KeyDescr) HasKeychain(keychain uint32) bool {
	return slices.Contains(k.Keychains, keychain)
}

// Derive returns the public key at the terminal.
func (k KeyDescr) Derive(t Terminal) (*btcec.PublicKey, error) {
	if !k.HasKeychain(t.Keychain) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKeychain, t.Keychain)
	}

	chain, err := k.Xpub.Derive(t.Keychain)
	if err != nil {
		return nil, err
	}
	child, err := chain.Derive(t.Index)
	if err != nil {
		return nil, err
	}

	return child.ECPubKey()
}

// FullPath returns the master fingerprint and full derivation path of the
// terminal, as recorded in PSBT derivation fields.
func (k KeyDescr) FullPath(t Terminal) (uint32, []uint32) {
	var (
		fingerprint uint32
		path        []uint32
	)
	if k.Origin != nil {
		fingerprint = k.Origin.MasterFingerprint()
		path = append(path, k.Origin.Path...)
	}

	return fingerprint, append(path, t.Keychain, t.Index)
}

// parseKeyDescr parses `[origin]xpub/<k1;k2>/*`.
func parseKeyDescr(tok token) (KeyDescr, error) {
	var (
		key  KeyDescr
		rest = tok
	)

	if strings.HasPrefix(rest.s, "[") {
		end := strings.IndexByte(rest.s, ']')
		if end < 0 {
			return key, parseErr(ErrInvalidStructure, rest)
		}

		origin, err := parseOrigin(rest.sub(1, end))
		if err != nil {
			return key, err
		}
		key.Origin = origin
		rest = rest.sub(end+1, len(rest.s))
	}

	if !strings.HasSuffix(rest.s, "/*") {
		return key, parseErr(ErrInvalidStructure, rest)
	}
	rest = rest.sub(0, len(rest.s)-2)

	sep := strings.IndexByte(rest.s, '/')
	if sep < 0 {
		return key, parseErr(ErrInvalidStructure, rest)
	}

	xpubTok := rest.sub(0, sep)
	xpub, err := hdkeychain.NewKeyFromString(xpubTok.s)
	if err != nil || xpub.IsPrivate() {
		return key, parseErr(ErrInvalidKey, xpubTok)
	}
	key.Xpub = xpub

	chains := rest.sub(sep+1, len(rest.s))
	if strings.HasPrefix(chains.s, "<") {
		if !strings.HasSuffix(chains.s, ">") {
			return key, parseErr(ErrInvalidStructure, chains)
		}
		chains = chains.sub(1, len(chains.s)-1)
	}

	for _, part := range chains.split(';') {
		keychain, err := parseIndex(part, false)
		if err != nil {
			return key, err
		}
		key.Keychains = append(key.Keychains, keychain)
	}

	return key, nil
}

func parseOrigin(tok token) (*KeyOrigin, error) {
	parts := tok.split('/')

	fp, err := hex.DecodeString(parts[0].s)
	if err != nil || len(fp) != 4 {
		return nil, parseErr(ErrInvalidKey, parts[0])
	}

	origin := &KeyOrigin{}
	copy(origin.Fingerprint[:], fp)
	for _, part := range parts[1:] {
		idx, err := parseIndex(part, true)
		if err != nil {
			return nil, err
		}
		origin.Path = append(origin.Path, idx)
	}

	return origin, nil
}
