package wallet

import (
	"sync"

	"github.com/lightninglabs/rgb/descriptor"
)

// MemHolder keeps the wallet state in memory only.
type MemHolder struct {
	mu    sync.RWMutex
	descr *descriptor.Descr
	utxos *UtxoSet
}

// NewMemHolder returns an in-memory holder of the descriptor with an empty
// UTXO set.
func NewMemHolder(d *descriptor.Descr) *MemHolder {
	return &MemHolder{
		descr: d.Copy(),
		utxos: NewUtxoSet(),
	}
}

// Descriptor returns a copy of the wallet descriptor.
func (m *MemHolder) Descriptor() *descriptor.Descr {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.descr.Copy()
}

// UpdateDescriptor applies update to a copy of the descriptor and keeps the
// copy if update succeeds.
func (m *MemHolder) UpdateDescriptor(
	update func(d *descriptor.Descr) error) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.descr.Copy()
	if err := update(d); err != nil {
		return err
	}
	m.descr = d

	return nil
}

// Utxos returns the UTXO set of the wallet.
func (m *MemHolder) Utxos() *UtxoSet {
	return m.utxos
}

// Save is a no-op for the in-memory holder.
func (m *MemHolder) Save() error {
	return nil
}

// Close is a no-op for the in-memory holder.
func (m *MemHolder) Close() error {
	return nil
}

var _ Holder = (*MemHolder)(nil)
