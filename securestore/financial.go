package securestore

// FinancialPrefix namespaces every key stored through the legacy financial
// data alias.
const FinancialPrefix = "fin_"

// FinancialStore is a convenience wrapper that prefixes every key with
// FinancialPrefix. It carries the same encrypt/decrypt contract as the
// underlying Store, not a distinct guarantee.
type FinancialStore struct {
	store *Store
}

// Financial returns the financial-data alias over the store.
func (s *Store) Financial() *FinancialStore {
	return &FinancialStore{store: s}
}

// SetItem stores value under the financial prefix, always marked sensitive.
func (f *FinancialStore) SetItem(key string, value any) error {
	return f.store.SetItem(FinancialPrefix+key, value, SetOptions{Sensitive: true})
}

// GetItem loads the value stored under the financial prefix.
func (f *FinancialStore) GetItem(key string, out any) (bool, error) {
	return f.store.GetItem(FinancialPrefix+key, out)
}

// RemoveItem deletes the financial entry under key.
func (f *FinancialStore) RemoveItem(key string) error {
	return f.store.RemoveItem(FinancialPrefix + key)
}
