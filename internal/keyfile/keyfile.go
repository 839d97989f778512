// Package keyfile encodes and decodes Ethereum V3 keystore documents
// (Web3 Secret Storage): a private key encrypted with AES-128-CTR under a
// password-derived key, authenticated by a Keccak-256 MAC.
package keyfile

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/crypto/sha3"
)

// KDF identifies a key-derivation function.
type KDF string

// Supported KDFs.
const (
	KDFPBKDF2 KDF = "pbkdf2"
	KDFScrypt KDF = "scrypt"
)

const (
	// Version is the only keystore format version understood by the codec.
	Version = 3

	// DefaultPBKDF2Iterations is the work factor of new keyfiles.
	DefaultPBKDF2Iterations = 262144

	// DefaultScryptN, DefaultScryptR and DefaultScryptP are the standard scrypt
	// parameters used by other wallets.
	DefaultScryptN = 1 << 18
	DefaultScryptR = 8
	DefaultScryptP = 1

	CipherAES128CTR = "aes-128-ctr"
	PRFHMACSHA256   = "hmac-sha256"

	dkLen   = 32
	saltLen = 32
	ivLen   = aes.BlockSize
	macLen  = 32

	// maxScryptMemory bounds 128*r*n, the memory scrypt allocates.
	maxScryptMemory = 2 << 30
)

// Record is the on-disk keystore document. Field order follows the
// alphabetical layout produced by other V3 implementations.
type Record struct {
	Address string       `json:"address,omitempty"`
	Crypto  CryptoParams `json:"crypto"`
	ID      string       `json:"id,omitempty"`
	Version int          `json:"version"`
}

// CryptoParams holds the cipher and KDF sections of a keystore.
type CryptoParams struct {
	Cipher       string       `json:"cipher"`
	CipherText   string       `json:"ciphertext"`
	CipherParams CipherParams `json:"cipherparams"`
	KDF          KDF          `json:"kdf"`
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"`
}

// CipherParams holds the AES-CTR initialisation vector.
type CipherParams struct {
	IV string `json:"iv"`
}

// KDFParams is the union of the pbkdf2 ({c, dklen, prf, salt}) and scrypt
// ({dklen, n, p, r, salt}) parameter sets. Unused fields are omitted.
type KDFParams struct {
	C     int    `json:"c,omitempty"`
	DKLen int    `json:"dklen"`
	N     int    `json:"n,omitempty"`
	P     int    `json:"p,omitempty"`
	PRF   string `json:"prf,omitempty"`
	R     int    `json:"r,omitempty"`
	Salt  string `json:"salt"`
}

// Params selects the KDF and work factor used by Encrypt.
type Params struct {
	KDF        KDF
	Iterations int // pbkdf2
	N, R, P    int // scrypt
}

// DefaultParams returns PBKDF2 with the default iteration count.
func DefaultParams() Params {
	return PBKDF2Params(DefaultPBKDF2Iterations)
}

// PBKDF2Params returns PBKDF2 parameters with the given iteration count.
func PBKDF2Params(iterations int) Params {
	return Params{KDF: KDFPBKDF2, Iterations: iterations}
}

// ScryptParams returns scrypt parameters.
func ScryptParams(n, r, p int) Params {
	return Params{KDF: KDFScrypt, N: n, R: r, P: p}
}

// Params returns the KDF parameters the record was encrypted with, so the key
// can be re-encrypted with the same work factor.
func (r *Record) Params() Params {
	kp := r.Crypto.KDFParams
	switch r.Crypto.KDF {
	case KDFScrypt:
		return ScryptParams(kp.N, kp.R, kp.P)
	default:
		return PBKDF2Params(kp.C)
	}
}

// Parse decodes and validates a keystore document. Unsupported versions, KDFs,
// PRFs and ciphers are rejected here rather than at decrypt time.
func Parse(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", walleterr.ErrInvalidKeystore, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Marshal encodes the record as JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Validate checks that the record is a well-formed V3 document.
func (r *Record) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", walleterr.ErrInvalidKeystore, fmt.Sprintf(format, args...))
	}

	if r.Version != Version {
		return invalid("unsupported version %d", r.Version)
	}
	c := r.Crypto
	if c.Cipher != CipherAES128CTR {
		return invalid("unsupported cipher %q", c.Cipher)
	}
	kp := c.KDFParams
	switch c.KDF {
	case KDFPBKDF2:
		if kp.PRF != PRFHMACSHA256 {
			return invalid("unsupported prf %q", kp.PRF)
		}
		if kp.C <= 0 {
			return invalid("pbkdf2 iteration count must be positive")
		}
	case KDFScrypt:
		if err := checkScrypt(kp.N, kp.R, kp.P); err != nil {
			return invalid("%v", err)
		}
	default:
		return invalid("unsupported kdf %q", c.KDF)
	}
	if kp.DKLen != dkLen {
		return invalid("unsupported dklen %d", kp.DKLen)
	}
	if _, err := decodeHex(kp.Salt, 0); err != nil {
		return invalid("salt: %v", err)
	}
	if _, err := decodeHex(c.CipherParams.IV, ivLen); err != nil {
		return invalid("iv: %v", err)
	}
	if _, err := decodeHex(c.MAC, macLen); err != nil {
		return invalid("mac: %v", err)
	}
	if _, err := decodeHex(c.CipherText, 0); err != nil {
		return invalid("ciphertext: %v", err)
	}
	return nil
}

// checkScrypt rejects malformed scrypt parameters and work factors whose
// memory cost exceeds maxScryptMemory.
func checkScrypt(n, r, p int) error {
	if n <= 1 || n&(n-1) != 0 || r <= 0 || p <= 0 {
		return fmt.Errorf("bad scrypt parameters n=%d r=%d p=%d", n, r, p)
	}
	if uint64(r) > maxScryptMemory/128 || uint64(n) > maxScryptMemory/(128*uint64(r)) {
		return fmt.Errorf("scrypt parameters n=%d r=%d need more than %d bytes", n, r, uint64(maxScryptMemory))
	}
	if uint64(r)*uint64(p) >= 1<<30 {
		return fmt.Errorf("scrypt parameters r=%d p=%d too large", r, p)
	}
	return nil
}

// Encrypt encrypts key under password. The returned record has no address or
// id; callers add them.
func Encrypt(key, password []byte, p Params) (*Record, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}

	kp := KDFParams{DKLen: dkLen, Salt: hex.EncodeToString(salt)}
	switch p.KDF {
	case KDFPBKDF2, "":
		if p.Iterations <= 0 {
			return nil, fmt.Errorf("%w: pbkdf2 iterations must be positive", walleterr.ErrInvalidParameter)
		}
		p.KDF = KDFPBKDF2
		kp.C = p.Iterations
		kp.PRF = PRFHMACSHA256
	case KDFScrypt:
		if err := checkScrypt(p.N, p.R, p.P); err != nil {
			return nil, fmt.Errorf("%w: %v", walleterr.ErrInvalidParameter, err)
		}
		kp.N, kp.R, kp.P = p.N, p.R, p.P
	default:
		return nil, fmt.Errorf("%w: unsupported kdf %q", walleterr.ErrInvalidParameter, p.KDF)
	}

	derived, err := deriveKey(password, p.KDF, kp, salt)
	if err != nil {
		return nil, err
	}

	cipherText, err := aesCTR(derived[:16], iv, key)
	if err != nil {
		return nil, err
	}

	return &Record{
		Version: Version,
		Crypto: CryptoParams{
			Cipher:       CipherAES128CTR,
			CipherText:   hex.EncodeToString(cipherText),
			CipherParams: CipherParams{IV: hex.EncodeToString(iv)},
			KDF:          p.KDF,
			KDFParams:    kp,
			MAC:          hex.EncodeToString(mac(derived, cipherText)),
		},
	}, nil
}

// Decrypt recovers the private key. A MAC mismatch yields
// walleterr.ErrInvalidPassword and no key material.
func Decrypt(r *Record, password []byte) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	c := r.Crypto
	salt, _ := decodeHex(c.KDFParams.Salt, 0)
	iv, _ := decodeHex(c.CipherParams.IV, ivLen)
	wantMAC, _ := decodeHex(c.MAC, macLen)
	cipherText, _ := decodeHex(c.CipherText, 0)

	derived, err := deriveKey(password, c.KDF, c.KDFParams, salt)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(mac(derived, cipherText), wantMAC) != 1 {
		return nil, walleterr.ErrInvalidPassword
	}
	return aesCTR(derived[:16], iv, cipherText)
}

func deriveKey(password []byte, kdf KDF, kp KDFParams, salt []byte) ([]byte, error) {
	switch kdf {
	case KDFPBKDF2:
		return pbkdf2.Key(password, salt, kp.C, kp.DKLen, sha256.New), nil
	case KDFScrypt:
		k, err := scrypt.Key(password, salt, kp.N, kp.R, kp.P, kp.DKLen)
		if err != nil {
			return nil, fmt.Errorf("%w: scrypt: %v", walleterr.ErrInvalidParameter, err)
		}
		return k, nil
	default:
		return nil, fmt.Errorf("%w: unsupported kdf %q", walleterr.ErrInvalidKeystore, kdf)
	}
}

// mac is Keccak-256(derived[16:32] || ciphertext).
func mac(derived, cipherText []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(derived[16:32])
	h.Write(cipherText)
	return h.Sum(nil)
}

func aesCTR(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}

func decodeHex(s string, wantLen int) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty")
	}
	if wantLen > 0 && len(b) != wantLen {
		return nil, fmt.Errorf("length %d, want %d", len(b), wantLen)
	}
	return b, nil
}
