package rgbpsbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// ProprietaryKey returns the full key of a proprietary field, including the
// key type byte.
func ProprietaryKey(namespace []byte, subtype uint64, keyData []byte) []byte {
	var b bytes.Buffer
	b.WriteByte(PsbtKeyTypeProprietary)
	_ = wire.WriteVarInt(&b, 0, uint64(len(namespace)))
	b.Write(namespace)
	_ = wire.WriteVarInt(&b, 0, subtype)
	b.Write(keyData)

	return b.Bytes()
}

// parseProprietaryKey splits a proprietary key into its namespace, subtype
// and key data.
func parseProprietaryKey(key []byte) ([]byte, uint64, []byte, bool) {
	if len(key) == 0 || key[0] != PsbtKeyTypeProprietary {
		return nil, 0, nil, false
	}

	r := bytes.NewReader(key[1:])
	nsLen, err := wire.ReadVarInt(r, 0)
	if err != nil || nsLen > uint64(r.Len()) {
		return nil, 0, nil, false
	}
	namespace := make([]byte, nsLen)
	if _, err := r.Read(namespace); err != nil && nsLen > 0 {
		return nil, 0, nil, false
	}

	subtype, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, 0, nil, false
	}

	keyData := make([]byte, r.Len())
	_, _ = r.Read(keyData)

	return namespace, subtype, keyData, true
}

// field is a decoded proprietary field.
type field struct {
	keyData []byte
	value   []byte
}

// findFields returns all proprietary fields of the namespace and subtype.
func findFields(fields []*customPsbtField, namespace []byte,
	subtype uint64) []field {

	var found []field
	for _, f := range fields {
		ns, st, keyData, ok := parseProprietaryKey(f.Key)
		if !ok || !bytes.Equal(ns, namespace) || st != subtype {
			continue
		}

		found = append(found, field{keyData: keyData, value: f.Value})
	}

	return found
}

// findCustomFieldsByKey returns the field with exactly the given key.
func findCustomFieldsByKey(fields []*customPsbtField,
	key []byte) (*customPsbtField, error) {

	for _, f := range fields {
		if bytes.Equal(f.Key, key) {
			return f, nil
		}
	}

	return nil, fmt.Errorf("%w: key %x not found in list of unknowns",
		ErrKeyNotFound, key)
}

// setCustomField sets the value of the field with the given key, replacing
// any existing value.
func setCustomField(fields []*customPsbtField, key,
	value []byte) []*customPsbtField {

	if f, err := findCustomFieldsByKey(fields, key); err == nil {
		f.Value = value
		return fields
	}

	return append(fields, &customPsbtField{
		Key:   key,
		Value: value,
	})
}

// removeCustomField removes the field with the given key.
func removeCustomField(fields []*customPsbtField,
	key []byte) []*customPsbtField {

	kept := fields[:0]
	for _, f := range fields {
		if !bytes.Equal(f.Key, key) {
			kept = append(kept, f)
		}
	}
	return kept
}
