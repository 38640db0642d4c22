package seal

import (
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ParseOutPoint parses `txid:vout`.
func ParseOutPoint(s string) (wire.OutPoint, error) {
	var op wire.OutPoint

	sep := strings.LastIndexByte(s, ':')
	if sep < 0 {
		return op, parseErr(ErrInvalidSeal, s, 0)
	}

	hash, err := chainhash.NewHashFromStr(s[:sep])
	if err != nil || len(s[:sep]) != chainhash.MaxHashStringSize {
		return op, parseErr(ErrInvalidSeal, s[:sep], 0)
	}

	vout, err := strconv.ParseUint(s[sep+1:], 10, 32)
	if err != nil {
		return op, parseErr(ErrInvalidVout, s[sep+1:], sep+1)
	}

	return wire.OutPoint{Hash: *hash, Index: uint32(vout)}, nil
}

// ParsePrimary parses an outpoint or a `~:<vout>` witness placeholder.
func ParsePrimary(s string) (Primary, error) {
	if strings.HasPrefix(s, WoutPrefix+":") {
		lit := s[len(WoutPrefix)+1:]
		vout, err := strconv.ParseUint(lit, 10, 32)
		if err != nil {
			return Primary{}, parseErr(
				ErrInvalidVout, lit, len(WoutPrefix)+1,
			)
		}

		return Wout(uint32(vout)), nil
	}

	op, err := ParseOutPoint(s)
	if err != nil {
		var pErr *ParseError
		if errors.As(err, &pErr) && pErr.Err == ErrInvalidSeal {
			pErr.Err = ErrInvalidPrimary
		}
		return Primary{}, err
	}

	return Extern(op), nil
}

// ParseNoise parses a 64 char hex blinding value.
func ParseNoise(s string) (Noise, error) {
	var n Noise

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(n) {
		return n, parseErr(ErrInvalidNoise, s, 0)
	}

	copy(n[:], b)
	return n, nil
}

// ParseSecondary parses a fallback outpoint or a hex blinding value. The two
// are told apart by the outpoint separator.
func ParseSecondary(s string) (Secondary, error) {
	if strings.ContainsRune(s, ':') {
		op, err := ParseOutPoint(s)
		if err != nil {
			var pErr *ParseError
			if errors.As(err, &pErr) && pErr.Err == ErrInvalidSeal {
				pErr.Err = ErrInvalidFallback
			}
			return Secondary{}, err
		}

		return WithFallback(op), nil
	}

	n, err := ParseNoise(s)
	if err != nil {
		return Secondary{}, err
	}

	return WithNoise(n), nil
}

// Parse parses a seal literal `<primary>/<secondary>`. Errors are always of
// type *ParseError with offsets relative to the start of s.
func Parse(s string) (Seal, error) {
	if s == "" {
		return Seal{}, parseErr(ErrInvalidSeal, s, 0)
	}

	sep := strings.IndexByte(s, '/')
	if sep < 0 {
		return Seal{}, parseErr(ErrNoFallback, s, 0)
	}

	primary, err := ParsePrimary(s[:sep])
	if err != nil {
		return Seal{}, err
	}

	secondary, err := ParseSecondary(s[sep+1:])
	if err != nil {
		var pErr *ParseError
		if errors.As(err, &pErr) {
			return Seal{}, pErr.Shift(sep + 1)
		}
		return Seal{}, err
	}

	return Seal{Primary: primary, Secondary: secondary}, nil
}
