// Package keystore manages a directory of V3 keyfiles: listing, creating,
// importing, soft-deleting and re-encrypting accounts. Loaded accounts are
// cached; the cache is changed only by the store's mutation methods.
package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/OKaluzny/wallet-engine/internal/account"
	"github.com/OKaluzny/wallet-engine/internal/keyfile"
	"github.com/OKaluzny/wallet-engine/internal/wallet"
	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	dirPerm          = 0o700
	deletedDirSuffix = "-deleted"
	tmpPrefix        = ".tmp-keyfile-"
)

// Store is one keystore directory and its account cache.
type Store struct {
	dir    string
	logger *zap.Logger

	// readDir lists the keystore directory; replaced in tests.
	readDir func(name string) ([]os.DirEntry, error)

	mu       sync.Mutex
	accounts []*account.Account
	loaded   bool
}

// New returns a store for dir. The directory is created on first use.
func New(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:     dir,
		logger:  logger.With(zap.String("component", "keystore"), zap.String("dir", dir)),
		readDir: os.ReadDir,
	}
}

// Dir returns the managed directory.
func (s *Store) Dir() string {
	return s.dir
}

// DeletedAccountDir returns the trash directory paired with keystoreDir: a
// sibling named "<basename>-deleted". Trailing separators are ignored.
func DeletedAccountDir(keystoreDir string) string {
	dir := strings.TrimRight(keystoreDir, string(filepath.Separator)+"/")
	return filepath.Join(filepath.Dir(dir), filepath.Base(dir)+deletedDirSuffix)
}

// ListAccounts returns the accounts of the directory in listing order. The
// directory is enumerated once; later calls return the cache. A failed
// enumeration returns an error and leaves the cache unpopulated.
func (s *Store) ListAccounts() ([]*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]*account.Account, len(s.accounts))
	copy(out, s.accounts)
	return out, nil
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("%w: create keystore dir: %v", walleterr.ErrFilesystem, err)
	}
	entries, err := s.readDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: list keystore dir: %v", walleterr.ErrFilesystem, err)
	}

	accounts := make([]*account.Account, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		a, err := account.Load(path)
		if errors.Is(err, walleterr.ErrInvalidKeystore) {
			s.logger.Warn("skipping unparsable keyfile", zap.String("path", path), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
		accounts = append(accounts, a)
	}

	// Only a complete enumeration populates the cache.
	s.accounts = accounts
	s.loaded = true
	s.logger.Debug("keystore loaded", zap.Int("accounts", len(accounts)))
	return nil
}

// Option configures NewAccount and ImportMnemonic.
type Option func(*createOptions)

type createOptions struct {
	securityRatio *int
	params        *keyfile.Params
}

// WithSecurityRatio scales the default PBKDF2 iteration count to ratio
// percent, rounded up. Valid ratios are 1 to 100.
func WithSecurityRatio(ratio int) Option {
	return func(o *createOptions) { o.securityRatio = &ratio }
}

// WithParams sets explicit KDF parameters.
func WithParams(p keyfile.Params) Option {
	return func(o *createOptions) { o.params = &p }
}

// SecurityRatioIterations returns the PBKDF2 iteration count for a security
// ratio in [1, 100].
func SecurityRatioIterations(ratio int) (int, error) {
	if ratio < 1 || ratio > 100 {
		return 0, fmt.Errorf("%w: security ratio must be within 1 and 100, got %d", walleterr.ErrInvalidParameter, ratio)
	}
	return (keyfile.DefaultPBKDF2Iterations*ratio + 99) / 100, nil
}

func resolveParams(opts []Option) (keyfile.Params, error) {
	o := createOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.params != nil {
		return *o.params, nil
	}
	if o.securityRatio == nil {
		return keyfile.DefaultParams(), nil
	}
	iterations, err := SecurityRatioIterations(*o.securityRatio)
	if err != nil {
		return keyfile.Params{}, err
	}
	return keyfile.PBKDF2Params(iterations), nil
}

// NewAccount creates an account with a random key, stores it as
// <dir>/<address> and appends it to the cache. The account is unlocked.
func (s *Store) NewAccount(password string, opts ...Option) (*account.Account, error) {
	params, err := resolveParams(opts)
	if err != nil {
		return nil, err
	}
	a, err := account.New(password, account.WithParams(params))
	if err != nil {
		return nil, err
	}
	if err := s.AddAccount(a); err != nil {
		return nil, err
	}
	s.logger.Info("account created", zap.Stringer("account", a))
	return a, nil
}

// ImportMnemonic derives the key at m/44'/60'/0'/0/index from a BIP-39
// mnemonic, encrypts it under password and adds it to the store.
func (s *Store) ImportMnemonic(mnemonic, passphrase string, index uint32, password string, opts ...Option) (*account.Account, error) {
	params, err := resolveParams(opts)
	if err != nil {
		return nil, err
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	derived, err := wallet.NewETHGenerator().GenerateFromSeed(seed, index)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	a, err := account.New(password, account.WithKey(derived.PrivateKey), account.WithParams(params))
	for i := range derived.PrivateKey {
		derived.PrivateKey[i] = 0
	}
	if err != nil {
		return nil, err
	}
	if err := s.AddAccount(a); err != nil {
		return nil, err
	}
	s.logger.Info("account imported", zap.Stringer("account", a), zap.String("path", derived.DerivationPath))
	return a, nil
}

// AddAccount persists an in-memory account and appends it to the cache. An
// account without a path is stored as <dir>/<address>.
func (s *Store) AddAccount(a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	if a.Path() == "" {
		addr, ok := a.Address()
		if !ok {
			return fmt.Errorf("%w: account address unknown", walleterr.ErrInvalidParameter)
		}
		name := strings.ToLower(strings.TrimPrefix(addr.Hex(), "0x"))
		if err := a.SetPath(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	if err := writeAccount(a); err != nil {
		return err
	}

	for i, cached := range s.accounts {
		if cached.Path() == a.Path() {
			s.accounts[i] = a
			return nil
		}
	}
	s.accounts = append(s.accounts, a)
	return nil
}

// DeleteAccount moves the account's keyfile into the trash directory and
// removes it from the cache. An existing file of the same name in the trash
// is replaced.
func (s *Store) DeleteAccount(a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Path() == "" {
		return fmt.Errorf("%w: account has no keyfile", walleterr.ErrInvalidParameter)
	}
	trash := DeletedAccountDir(s.dir)
	if err := os.MkdirAll(trash, dirPerm); err != nil {
		return fmt.Errorf("%w: create trash dir: %v", walleterr.ErrFilesystem, err)
	}
	dest := filepath.Join(trash, filepath.Base(a.Path()))
	if err := os.Rename(a.Path(), dest); err != nil {
		return fmt.Errorf("%w: move keyfile: %v", walleterr.ErrFilesystem, err)
	}

	for i, cached := range s.accounts {
		if cached == a || cached.Path() == a.Path() {
			s.accounts = append(s.accounts[:i:i], s.accounts[i+1:]...)
			break
		}
	}
	s.logger.Info("account deleted", zap.Stringer("account", a), zap.String("trash", dest))
	return nil
}

// GetByAddress returns the first cached account with the given address. When
// several accounts share it, a warning is logged and the first is returned.
func (s *Store) GetByAddress(address common.Address) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	var matches []*account.Account
	for _, a := range s.accounts {
		if addr, ok := a.Address(); ok && addr == address {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", walleterr.ErrAccountNotFound, address.Hex())
	case 1:
	default:
		s.logger.Warn("multiple accounts with same address found",
			zap.String("address", address.Hex()),
			zap.Int("count", len(matches)),
		)
	}
	return matches[0], nil
}

// UpdateAccountPassword re-encrypts the account under newPassword with its
// existing KDF parameters and rewrites its keyfile. currentPassword is used
// only when the account is locked. The keyfile is written before the new
// record is installed, so a failed write leaves both the file and the account
// on the old password, and a locked account is locked again.
func (s *Store) UpdateAccountPassword(a *account.Account, newPassword, currentPassword string) error {
	wasLocked := a.Locked()
	if wasLocked {
		if err := a.Unlock(currentPassword); err != nil {
			return err
		}
	}

	var persist func([]byte) error
	if path := a.Path(); path != "" {
		persist = func(data []byte) error { return writeFileAtomic(path, data) }
	}
	if err := a.ReencryptWith(newPassword, persist); err != nil {
		if wasLocked {
			a.Lock()
		}
		s.logger.Warn("account password not updated", zap.Stringer("account", a), zap.Error(err))
		return err
	}
	if persist != nil {
		s.logger.Info("account password updated", zap.Stringer("account", a))
	}
	return nil
}

func writeAccount(a *account.Account) error {
	data, err := a.Dump()
	if err != nil {
		return fmt.Errorf("dump account: %w", err)
	}
	return writeFileAtomic(a.Path(), data)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("%w: create dir: %v", walleterr.ErrFilesystem, err)
	}
	f, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: create temp keyfile: %v", walleterr.ErrFilesystem, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: write keyfile: %v", walleterr.ErrFilesystem, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: close keyfile: %v", walleterr.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename keyfile: %v", walleterr.ErrFilesystem, err)
	}
	return nil
}
