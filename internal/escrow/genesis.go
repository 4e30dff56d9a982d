package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"kittycore/pkg/domain"
)

// Genesis is the YAML document holding account balances.
//
//	accounts:
//	  alice:
//	    free: 100
//	    reserved: 0
type Genesis struct {
	Accounts map[domain.AccountID]Account `yaml:"accounts"`
}

// Validate rejects blank account ids.
func (g Genesis) Validate() error {
	for id := range g.Accounts {
		if strings.TrimSpace(string(id)) == "" {
			return errors.New("genesis: blank account id")
		}
	}
	return nil
}

// Decode reads a genesis document into a new ledger.
func Decode(r io.Reader) (*Ledger, error) {
	var g Genesis
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	l := NewLedger()
	l.Replace(g.Accounts)
	return l, nil
}

// Encode writes the ledger as a genesis document.
func Encode(w io.Writer, l *Ledger) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Genesis{Accounts: l.Accounts()}); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	return enc.Close()
}

// LoadFile reads the genesis file at path. A missing file yields an empty
// ledger.
func LoadFile(path string) (*Ledger, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewLedger(), nil
	}
	if err != nil {
		return nil, err
	}
	l, err := Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// SaveFile writes the ledger to path, replacing it atomically.
func SaveFile(path string, l *Ledger) error {
	var buf bytes.Buffer
	if err := Encode(&buf, l); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".balances-*.yaml")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
