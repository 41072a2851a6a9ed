package credstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileStore keeps one JSON file per user identifier under a directory.
// Writes go to a temp file in the same directory and are renamed into
// place, so a crash mid-write cannot corrupt the previous record.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	name := idSanitizer.ReplaceAllString(id, "_")
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Load(id string) (*StoredCredentials, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "credstore: read")
	}
	var creds StoredCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.Wrap(err, "credstore: decode")
	}
	return &creds, nil
}

func (s *FileStore) Save(id string, creds *StoredCredentials) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Wrap(err, "credstore: mkdir")
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "credstore: encode")
	}

	tmp, err := os.CreateTemp(s.dir, ".creds-*")
	if err != nil {
		return errors.Wrap(err, "credstore: temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "credstore: write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "credstore: sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "credstore: close")
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return errors.Wrap(err, "credstore: chmod")
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return errors.Wrap(err, "credstore: rename")
	}
	return nil
}

func (s *FileStore) Clear(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "credstore: remove")
	}
	return nil
}
