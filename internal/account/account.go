// Package account holds a single wallet identity: an encrypted keystore
// record, the file backing it and its lock state.
package account

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OKaluzny/wallet-engine/internal/keyfile"
	"github.com/OKaluzny/wallet-engine/internal/wallet"
	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// UnknownAddress is what String reports for a locked account whose keyfile
// carries no address.
const UnknownAddress = "unknown"

// Account is one keystore-backed identity. An Account is not safe for
// concurrent use; callers serialize unlock, lock and signing per account.
type Account struct {
	record *keyfile.Record
	path   string
	locked bool

	privKey []byte
	// address is cached once known and survives Lock.
	address *common.Address
}

// Option configures New.
type Option func(*options)

type options struct {
	key    []byte
	id     string
	params keyfile.Params
}

// WithKey encrypts the given private key instead of generating one.
func WithKey(key []byte) Option {
	return func(o *options) { o.key = key }
}

// WithID sets the keystore id. Without it a random UUID v4 is assigned.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithParams overrides the KDF parameters.
func WithParams(p keyfile.Params) Option {
	return func(o *options) { o.params = p }
}

// New creates an in-memory account encrypted under password. The account is
// returned unlocked and has no path until the store persists it.
func New(password string, opts ...Option) (*Account, error) {
	o := options{params: keyfile.DefaultParams()}
	for _, opt := range opts {
		opt(&o)
	}

	key := o.key
	if key == nil {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		key = priv.Serialize()
	} else if err := wallet.ValidateKey(key); err != nil {
		return nil, err
	}

	record, err := keyfile.Encrypt(key, []byte(password), o.params)
	if err != nil {
		return nil, fmt.Errorf("encrypt key: %w", err)
	}
	addr := addressFromKey(key)
	record.Address = addressHex(addr)
	record.ID = o.id
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	return &Account{
		record:  record,
		locked:  false,
		privKey: append([]byte(nil), key...),
		address: &addr,
	}, nil
}

// FromRecord wraps a parsed keystore record in a locked account.
func FromRecord(record *keyfile.Record, path string) (*Account, error) {
	a := &Account{record: record, locked: true}
	if path != "" {
		if err := a.SetPath(path); err != nil {
			return nil, err
		}
	}
	if record.Address != "" {
		if !common.IsHexAddress(record.Address) {
			return nil, fmt.Errorf("%w: bad address %q", walleterr.ErrInvalidKeystore, record.Address)
		}
		addr := common.HexToAddress(record.Address)
		a.address = &addr
	}
	return a, nil
}

// Load parses the keyfile at path and returns a locked account.
func Load(path string) (*Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read keyfile: %v", walleterr.ErrFilesystem, err)
	}
	record, err := keyfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return FromRecord(record, path)
}

// LoadUnlocked loads the keyfile at path and unlocks it with password.
func LoadUnlocked(path, password string) (*Account, error) {
	a, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := a.Unlock(password); err != nil {
		return nil, err
	}
	return a, nil
}

// Unlock decrypts the private key. Unlocking an already unlocked account is a
// no-op whatever the password.
func (a *Account) Unlock(password string) error {
	if !a.locked {
		return nil
	}
	key, err := keyfile.Decrypt(a.record, []byte(password))
	if err != nil {
		return err
	}
	derived, err := wallet.AddressFromKey(key)
	if err != nil {
		zero(key)
		return fmt.Errorf("%w: decrypted key: %v", walleterr.ErrInvalidKeystore, err)
	}
	if a.address != nil && *a.address != derived {
		zero(key)
		return fmt.Errorf("%w: key does not match address %s", walleterr.ErrInvalidKeystore, a.address.Hex())
	}
	a.privKey = key
	a.address = &derived
	a.locked = false
	return nil
}

// Lock drops the private key from memory. The address stays available.
func (a *Account) Lock() {
	zero(a.privKey)
	a.privKey = nil
	a.locked = true
}

// Locked reports whether the private key is unavailable.
func (a *Account) Locked() bool {
	return a.locked
}

// PrivateKey returns a copy of the raw private key.
func (a *Account) PrivateKey() ([]byte, error) {
	if a.locked {
		return nil, walleterr.ErrAccountLocked
	}
	return append([]byte(nil), a.privKey...), nil
}

// Address returns the account address and whether it is known. A locked
// account whose keyfile has no address field reports false.
func (a *Account) Address() (common.Address, bool) {
	if a.address == nil {
		return common.Address{}, false
	}
	return *a.address, true
}

// ID returns the keystore id, or "" when the keyfile has none.
func (a *Account) ID() string {
	return a.record.ID
}

// Path returns the backing file path, or "" for accounts not yet persisted.
func (a *Account) Path() string {
	return a.path
}

// SetPath sets the backing file path, made absolute.
func (a *Account) SetPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %v", walleterr.ErrFilesystem, err)
	}
	a.path = abs
	return nil
}

// Params returns the KDF parameters of the current keystore record.
func (a *Account) Params() keyfile.Params {
	return a.record.Params()
}

// Reencrypt replaces the keystore record with one encrypted under
// newPassword, keeping the id, the address and the KDF work factor.
func (a *Account) Reencrypt(newPassword string) error {
	return a.ReencryptWith(newPassword, nil)
}

// ReencryptWith is Reencrypt with a persist step: the serialized new keyfile
// is handed to persist before the record is swapped in. When persist fails
// the account keeps its current record and the error is returned.
func (a *Account) ReencryptWith(newPassword string, persist func(data []byte) error) error {
	if a.locked {
		return walleterr.ErrAccountLocked
	}
	record, err := keyfile.Encrypt(a.privKey, []byte(newPassword), a.record.Params())
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	record.ID = a.record.ID
	record.Address = addressHex(*a.address)

	if persist != nil {
		data, err := dump(record, a.address)
		if err != nil {
			return err
		}
		if err := persist(data); err != nil {
			return err
		}
	}
	a.record = record
	return nil
}

// Dump serializes the keystore for disk storage: crypto, version, and the
// address and id when known. It never contains plaintext key material.
func (a *Account) Dump() ([]byte, error) {
	return dump(a.record, a.address)
}

// PublicKey returns the uncompressed 65-byte secp256k1 public key.
func (a *Account) PublicKey() ([]byte, error) {
	if a.locked {
		return nil, walleterr.ErrAccountLocked
	}
	_, pub := btcec.PrivKeyFromBytes(a.privKey)
	return pub.SerializeUncompressed(), nil
}

func (a *Account) String() string {
	addr := UnknownAddress
	if known, ok := a.Address(); ok {
		addr = known.Hex()
	}
	return fmt.Sprintf("Account(address=%s, id=%s)", addr, a.record.ID)
}

func dump(record *keyfile.Record, address *common.Address) ([]byte, error) {
	out := keyfile.Record{
		Crypto:  record.Crypto,
		Version: record.Version,
		ID:      record.ID,
	}
	if address != nil {
		out.Address = addressHex(*address)
	}
	return out.Marshal()
}

func addressFromKey(key []byte) common.Address {
	addr, _ := wallet.AddressFromKey(key)
	return addr
}

func addressHex(addr common.Address) string {
	return strings.ToLower(strings.TrimPrefix(addr.Hex(), "0x"))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
