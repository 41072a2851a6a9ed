package credstore

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/tradehound/gobroker/pkg/secretstore"
)

const badgerKeyPrefix = "creds:"

// BadgerStore keeps credentials in an encrypted-at-rest Badger KV. Badger
// commits are atomic, which satisfies the crash-safety requirement without a
// rename dance.
type BadgerStore struct {
	store *secretstore.Store
}

// OpenBadgerStore opens (or creates) the store at path. passphrase derives
// the at-rest encryption key; empty passphrase opens unencrypted.
func OpenBadgerStore(path, passphrase string) (*BadgerStore, error) {
	opts := secretstore.OpenOptions{Path: path}
	if passphrase != "" {
		key, err := secretstore.DeriveKey(passphrase, []byte("gobroker-credstore"))
		if err != nil {
			return nil, err
		}
		opts.EncryptionKey = key
	}
	st, err := secretstore.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "credstore: open badger")
	}
	return &BadgerStore{store: st}, nil
}

func (s *BadgerStore) Load(id string) (*StoredCredentials, error) {
	data, found, err := s.store.Get(badgerKeyPrefix + id)
	if err != nil {
		return nil, errors.Wrap(err, "credstore: get")
	}
	if !found {
		return nil, nil
	}
	var creds StoredCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.Wrap(err, "credstore: decode")
	}
	return &creds, nil
}

func (s *BadgerStore) Save(id string, creds *StoredCredentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "credstore: encode")
	}
	return errors.Wrap(s.store.Set(badgerKeyPrefix+id, data), "credstore: set")
}

func (s *BadgerStore) Clear(id string) error {
	return errors.Wrap(s.store.Delete(badgerKeyPrefix+id), "credstore: delete")
}

func (s *BadgerStore) Close() error { return s.store.Close() }
