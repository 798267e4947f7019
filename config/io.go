package config

import (
	"os"
	"path/filepath"
)

// FullReader resolves and reads config sources by name.
type FullReader interface {
	Normalize(name string) string
	// nil,nil = not found
	ReadAll(path string) ([]byte, error)
}

// OsFullReader reads files, relative names resolve against base directory.
type OsFullReader struct {
	base string
}

func NewOsFullReader(base string) *OsFullReader {
	fs := &OsFullReader{}
	fs.SetBase(base)
	return fs
}

func (self *OsFullReader) SetBase(dir string) {
	if abs, err := filepath.Abs(dir); err == nil {
		self.base = abs
	} else {
		self.base = dir
	}
}

func (self *OsFullReader) Normalize(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(self.base, name)
}

func (*OsFullReader) ReadAll(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return b, err
}

// MockFullReader serves sources from memory, for tests.
type MockFullReader map[string]string

func (m MockFullReader) Normalize(name string) string { return filepath.Clean(name) }

func (m MockFullReader) ReadAll(name string) ([]byte, error) {
	if s, ok := m[name]; ok {
		return []byte(s), nil
	}
	return nil, nil
}
