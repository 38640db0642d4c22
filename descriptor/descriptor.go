package descriptor

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/rgb/dbc"
	"github.com/lightninglabs/rgb/seal"
	"golang.org/x/exp/slices"
)

// TerminalTweaks are the tapret commitments recorded for one terminal, in
// the order they were added.
type TerminalTweaks struct {
	Terminal    Terminal
	Commitments []dbc.TapretCommitment
}

// Descr is the RGB wallet descriptor: the spending keys, the commitment
// method they support and the wallet state needed to create and recognize
// seals.
type Descr struct {
	// Method is opret for wpkh wallets and tapret for tr wallets.
	Method dbc.Method

	// Key is the account key the wallet derives from.
	Key KeyDescr

	// Tweaks are the tapret tweaks per terminal, ordered by terminal.
	// Always empty for opret descriptors.
	Tweaks []TerminalTweaks

	// Noise is the seed from which seal blinding is derived. It is fixed
	// at creation.
	Noise [32]byte

	// Nonce is a counter making every derived seal blinding unique. It is
	// not part of the text form.
	Nonce uint64

	// Seals are the seals tracked by the wallet in canonical order.
	Seals []seal.Seal
}

// NewOpret returns an opret descriptor over a wpkh key.
func NewOpret(key KeyDescr, noise [32]byte) *Descr {
	return &Descr{
		Method: dbc.MethodOpret,
		Key:    key,
		Noise:  noise,
	}
}

// NewTapret returns a tapret descriptor over a tr key.
func NewTapret(key KeyDescr, noise [32]byte) *Descr {
	return &Descr{
		Method: dbc.MethodTapret,
		Key:    key,
		Noise:  noise,
	}
}

// Copy returns a deep copy of the descriptor.
func (d *Descr) Copy() *Descr {
	c := *d
	c.Key.Keychains = slices.Clone(d.Key.Keychains)
	c.Seals = slices.Clone(d.Seals)
	c.Tweaks = nil
	for _, tt := range d.Tweaks {
		c.Tweaks = append(c.Tweaks, TerminalTweaks{
			Terminal:    tt.Terminal,
			Commitments: slices.Clone(tt.Commitments),
		})
	}

	return &c
}

// RgbKeychain returns the keychain receiving RGB state for the commitment
// method of the descriptor.
func (d *Descr) RgbKeychain() uint32 {
	if d.Method == dbc.MethodTapret {
		return KeychainTapret
	}
	return KeychainOpret
}

// AddSeal registers a seal with the wallet. Known seals are ignored.
func (d *Descr) AddSeal(s seal.Seal) bool {
	idx := sort.Search(len(d.Seals), func(i int) bool {
		return !d.Seals[i].Less(s)
	})
	if idx < len(d.Seals) && d.Seals[idx] == s {
		return false
	}

	d.Seals = slices.Insert(d.Seals, idx, s)
	return true
}

// AddTweak records a tapret commitment for the terminal. Known commitments
// are ignored.
func (d *Descr) AddTweak(t Terminal, c dbc.TapretCommitment) error {
	if d.Method != dbc.MethodTapret {
		return ErrNotTapret
	}

	idx := sort.Search(len(d.Tweaks), func(i int) bool {
		return !d.Tweaks[i].Terminal.Less(t)
	})
	if idx == len(d.Tweaks) || d.Tweaks[idx].Terminal != t {
		d.Tweaks = slices.Insert(d.Tweaks, idx, TerminalTweaks{
			Terminal: t,
		})
	}

	tt := &d.Tweaks[idx]
	if slices.Contains(tt.Commitments, c) {
		return nil
	}
	tt.Commitments = append(tt.Commitments, c)

	log.Debugf("Added tapret tweak %v at terminal %v", c, t)

	return nil
}

// TweaksAt returns the tapret commitments recorded for the terminal.
func (d *Descr) TweaksAt(t Terminal) []dbc.TapretCommitment {
	for _, tt := range d.Tweaks {
		if tt.Terminal == t {
			return tt.Commitments
		}
	}
	return nil
}

// NextNonce returns the current nonce and advances the counter.
func (d *Descr) NextNonce() uint64 {
	nonce := d.Nonce
	d.Nonce++
	return nonce
}

// NewSealNoise returns the blinding for the index-th seal created with the
// current nonce.
func (d *Descr) NewSealNoise(primary seal.Primary, index uint32) seal.Noise {
	return seal.DeriveNoise(d.Noise, d.Nonce, primary, index)
}

// Derive returns the public key at the terminal.
func (d *Descr) Derive(t Terminal) (*btcec.PublicKey, error) {
	return d.Key.Derive(t)
}

// ScriptPubKey returns the untweaked output script at the terminal.
func (d *Descr) ScriptPubKey(t Terminal) ([]byte, error) {
	key, err := d.Derive(t)
	if err != nil {
		return nil, err
	}

	if d.Method == dbc.MethodTapret {
		return dbc.P2TRScript(txscript.ComputeTaprootKeyNoScript(key)), nil
	}

	return p2wpkhScript(key), nil
}

// ScriptPubKeys returns every output script the wallet may own at the
// terminal: the plain one followed by one per recorded tapret tweak.
func (d *Descr) ScriptPubKeys(t Terminal) ([][]byte, error) {
	plain, err := d.ScriptPubKey(t)
	if err != nil {
		return nil, err
	}

	scripts := [][]byte{plain}
	tweaks := d.TweaksAt(t)
	if len(tweaks) == 0 {
		return scripts, nil
	}

	key, err := d.Derive(t)
	if err != nil {
		return nil, err
	}
	for _, c := range tweaks {
		scripts = append(
			scripts, dbc.P2TRScript(dbc.TapretOutputKey(key, c)),
		)
	}

	return scripts, nil
}

// Address returns the untweaked address at the terminal.
func (d *Descr) Address(t Terminal,
	params *chaincfg.Params) (btcutil.Address, error) {

	script, err := d.ScriptPubKey(t)
	if err != nil {
		return nil, err
	}

	if d.Method == dbc.MethodTapret {
		return btcutil.NewAddressTaproot(script[2:], params)
	}

	return btcutil.NewAddressWitnessPubKeyHash(script[2:], params)
}

func p2wpkhScript(key *btcec.PublicKey) []byte {
	hash := btcutil.Hash160(key.SerializeCompressed())
	script := make([]byte, 0, 22)
	script = append(script, txscript.OP_0, txscript.OP_DATA_20)
	return append(script, hash...)
}

// String returns the text form
// `rgb(<keydescr>,<noise-hex>,seals(<seal>,...))`.
func (d *Descr) String() string {
	var b strings.Builder
	b.WriteString("rgb(")

	switch d.Method {
	case dbc.MethodTapret:
		b.WriteString("tapret(tr(")
		b.WriteString(d.Key.String())
		b.WriteString("),tweaks(")
		for i, tt := range d.Tweaks {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(tt.Terminal.String())
			b.WriteString("/")
			for j, c := range tt.Commitments {
				if j > 0 {
					b.WriteString(";")
				}
				b.WriteString(c.String())
			}
		}
		b.WriteString("))")

	default:
		b.WriteString("wpkh(")
		b.WriteString(d.Key.String())
		b.WriteString(")")
	}

	b.WriteString(",")
	b.WriteString(hex.EncodeToString(d.Noise[:]))
	b.WriteString(",seals(")
	for i, s := range d.Seals {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(s.String())
	}
	b.WriteString("))")

	return b.String()
}

// Parse parses the text form of a descriptor. Errors are of type
// *ParseError.
func Parse(s string) (*Descr, error) {
	args, err := token{s: s}.call("rgb")
	if err != nil {
		return nil, err
	}
	if len(args) != 3 {
		return nil, parseErr(ErrInvalidStructure, token{s: s})
	}

	d := &Descr{}
	keyTok := args[0]
	switch {
	case strings.HasPrefix(keyTok.s, "wpkh("):
		inner, err := keyTok.call("wpkh")
		if err != nil {
			return nil, err
		}
		if len(inner) != 1 {
			return nil, parseErr(ErrInvalidStructure, keyTok)
		}

		d.Method = dbc.MethodOpret
		if d.Key, err = parseKeyDescr(inner[0]); err != nil {
			return nil, err
		}

	case strings.HasPrefix(keyTok.s, "tapret("):
		inner, err := keyTok.call("tapret")
		if err != nil {
			return nil, err
		}
		if len(inner) != 2 {
			return nil, parseErr(ErrInvalidStructure, keyTok)
		}

		tr, err := inner[0].call("tr")
		if err != nil {
			return nil, err
		}
		if len(tr) != 1 {
			return nil, parseErr(ErrInvalidStructure, inner[0])
		}

		d.Method = dbc.MethodTapret
		if d.Key, err = parseKeyDescr(tr[0]); err != nil {
			return nil, err
		}

		tweaks, err := inner[1].call("tweaks")
		if err != nil {
			return nil, err
		}
		for _, tweakTok := range tweaks {
			if err := d.parseTweaks(tweakTok); err != nil {
				return nil, err
			}
		}

	default:
		return nil, parseErr(ErrInvalidStructure, keyTok)
	}

	noise, err := hex.DecodeString(args[1].s)
	if err != nil || len(noise) != len(d.Noise) {
		return nil, parseErr(ErrInvalidNoise, args[1])
	}
	copy(d.Noise[:], noise)

	seals, err := args[2].call("seals")
	if err != nil {
		return nil, err
	}
	for _, sealTok := range seals {
		sl, err := seal.Parse(sealTok.s)
		if err != nil {
			return nil, fromSealErr(err, sealTok)
		}
		d.AddSeal(sl)
	}

	return d, nil
}

// parseTweaks parses `/<keychain>/<index>/<tweak>[;<tweak>...]`, the tweak
// list optionally in angle brackets.
func (d *Descr) parseTweaks(tok token) error {
	parts := tok.split('/')
	if len(parts) != 4 || parts[0].s != "" {
		return parseErr(ErrInvalidStructure, tok)
	}

	keychain, err := parseIndex(parts[1], false)
	if err != nil {
		return err
	}
	index, err := parseIndex(parts[2], false)
	if err != nil {
		return err
	}
	terminal := Terminal{Keychain: keychain, Index: index}

	list := parts[3]
	if strings.HasPrefix(list.s, "<") && strings.HasSuffix(list.s, ">") {
		list = list.sub(1, len(list.s)-1)
	}

	for _, tweakTok := range list.split(';') {
		raw, err := hex.DecodeString(tweakTok.s)
		if err != nil || len(raw) != dbc.TapretCommitmentSize {
			return parseErr(ErrInvalidTweak, tweakTok)
		}

		var c dbc.TapretCommitment
		copy(c[:], raw)
		if err := d.AddTweak(terminal, c); err != nil {
			return err
		}
	}

	return nil
}

// Equal returns true if both descriptors have the same text form and
// nonce.
func (d *Descr) Equal(o *Descr) bool {
	return d.Nonce == o.Nonce && d.String() == o.String()
}

// ParseTerminal parses `/<keychain>/<index>`.
func ParseTerminal(s string) (Terminal, error) {
	parts := token{s: s}.split('/')
	if len(parts) != 3 || parts[0].s != "" {
		return Terminal{}, parseErr(ErrInvalidStructure, token{s: s})
	}

	var t Terminal
	for i, dst := range []*uint32{&t.Keychain, &t.Index} {
		idx, err := strconv.ParseUint(parts[i+1].s, 10, 31)
		if err != nil {
			return Terminal{}, parseErr(ErrInvalidIndex, parts[i+1])
		}
		*dst = uint32(idx)
	}

	return t, nil
}

// String returns a short summary of the tweaks.
func (t TerminalTweaks) String() string {
	return fmt.Sprintf("%v: %d tweaks", t.Terminal, len(t.Commitments))
}
