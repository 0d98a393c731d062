// Package wallet stores the distribution account's signing seed on the
// local filesystem.
//
// Features:
// - Supports Stellar strkey seeds only
// - Stores seeds on the local filesystem with owner-only permissions
// - No external key management dependencies
//
// This package is designed to be straightforward and explicit.
package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
)

type Wallet struct {
	Directory string
}

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".reciprocity", "wallet"), nil
}

func Open(directory string) (*Wallet, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &Wallet{Directory: directory}, nil
}

func (w *Wallet) seedFilePath(name string) string {
	return filepath.Join(w.Directory, name+".seed")
}

func CheckName(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in name", char)
	}
	return nil
}

// ParseSeed validates a strkey secret seed and returns its keypair.
func ParseSeed(seed string) (*keypair.Full, error) {
	seed = strings.TrimSpace(seed)
	if _, err := strkey.Decode(strkey.VersionByteSeed, seed); err != nil {
		return nil, fmt.Errorf("not a valid secret seed: %w", err)
	}
	return keypair.ParseFull(seed)
}

// StoreSeed validates and writes seed under name. Without overwrite an
// existing file is an error.
func (w *Wallet) StoreSeed(name, seed string, overwrite bool) (address string, filePath string, err error) {
	if err := CheckName(name); err != nil {
		return "", "", err
	}
	kp, err := ParseSeed(seed)
	if err != nil {
		return "", "", err
	}
	filePath = w.seedFilePath(name)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return "", "", err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return "", "", err
	}
	defer file.Close()
	if _, err := file.WriteString(kp.Seed() + "\n"); err != nil {
		return "", "", err
	}
	return kp.Address(), filePath, file.Close()
}

// LoadKeypair reads the seed stored under name.
func (w *Wallet) LoadKeypair(name string) (*keypair.Full, error) {
	if err := CheckName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(w.seedFilePath(name))
	if err != nil {
		return nil, err
	}
	return ParseSeed(string(data))
}

// Resolve loads a signing keypair from, in order of precedence, a literal
// seed, an explicit seed file, or a named wallet entry.
func (w *Wallet) Resolve(seed, seedFile, name string) (*keypair.Full, error) {
	if seed != "" {
		return ParseSeed(seed)
	}
	if seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			return nil, err
		}
		return ParseSeed(string(data))
	}
	if name != "" {
		return w.LoadKeypair(name)
	}
	return nil, errors.New("no signer provided")
}

// List returns the stored entry names with their public addresses.
func (w *Wallet) List() (map[string]string, error) {
	entries, err := os.ReadDir(w.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".seed") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".seed"))
	}
	sort.Strings(names)

	result := make(map[string]string, len(names))
	for _, name := range names {
		kp, err := w.LoadKeypair(name)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", name, err)
		}
		result[name] = kp.Address()
	}
	return result, nil
}
