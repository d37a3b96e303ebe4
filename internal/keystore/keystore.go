// Package keystore implements CertificateStore: the on-disk home of the
// CA key material and the content-addressed device certificate cache.
// The CA keystore is a single passphrase-protected file; device
// certificates are plain PEM files named by the SHA-256 hex digest of
// their PEM bytes.
package keystore

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/pbkdf2"

	"github.com/edgecore/cda/internal/ca"
)

var (
	// ErrKeystore wraps persistent I/O or format failures against the CA
	// keystore file (spec: KeystoreError).
	ErrKeystore = errors.New("keystore error")
	// ErrIO wraps device-certificate store I/O failures (spec: IoError).
	ErrIO = errors.New("device certificate io error")
	// ErrNotFound is returned by LoadDeviceCertificate when the id is
	// absent from the store (spec: NotFound).
	ErrNotFound = errors.New("device certificate not found")
)

const (
	passphraseLength = 16
	kdfIterations    = 100_000
	kdfKeyLength     = 32
	saltLength       = 16

	caKeyFileName = "ca.keystore"
	certsDirName  = "certs"
)

// envelope is the plaintext payload sealed inside the keystore file.
type envelope struct {
	Type       ca.KeyType
	PrivateKey []byte // PKCS8 DER
	CertDER    []byte
}

// Store owns the CA keystore file and the device certificate directory
// rooted at dir.
type Store struct {
	logger hclog.Logger
	dir    string

	mutex      sync.RWMutex
	current    *ca.KeyPair
	passphrase string

	certMutex sync.Mutex // serializes storeDeviceCertificateIfAbsent across ids
}

// New creates a Store rooted at dir. dir is created on Init if absent.
func New(logger hclog.Logger, dir string) *Store {
	return &Store{logger: logger, dir: dir}
}

// CaParams supplies the parameters for generating a fresh CA when none
// can be recovered from the existing keystore file.
type CaParams struct {
	KeyType    ca.KeyType
	CommonName string
	Lifetime   int64 // seconds
}

// Init opens the keystore at Store's configured directory. If a keystore
// file is present and passphrase decrypts it, the CA is loaded from it.
// Otherwise (file absent, or passphrase does not decrypt the existing
// file) a fresh keystore is created: a new CA is generated per params and
// persisted under passphrase, replacing any existing file.
func (s *Store) Init(passphrase string, params CaParams) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrKeystore, err)
	}

	path := filepath.Join(s.dir, caKeyFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		pair, decErr := open(data, passphrase)
		if decErr == nil {
			s.mutex.Lock()
			s.current = pair
			s.passphrase = passphrase
			s.mutex.Unlock()
			return nil
		}
		s.logger.Warn("existing CA keystore could not be opened with the provided passphrase; replacing it")
	case errors.Is(err, os.ErrNotExist):
		// fall through to generation
	default:
		return fmt.Errorf("%w: %v", ErrKeystore, err)
	}

	pair, err := ca.GenerateCA(params.KeyType, params.CommonName, time.Duration(params.Lifetime)*time.Second)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeystore, err)
	}
	if err := s.persist(pair, passphrase); err != nil {
		return err
	}

	s.mutex.Lock()
	s.current = pair
	s.passphrase = passphrase
	s.mutex.Unlock()
	return nil
}

// Adopt installs an externally-provided CA key pair (custom-CA mode) as
// current, persisting it under the store's existing passphrase.
func (s *Store) Adopt(pair *ca.KeyPair) error {
	s.mutex.RLock()
	passphrase := s.passphrase
	s.mutex.RUnlock()

	if err := s.persist(pair, passphrase); err != nil {
		return err
	}

	s.mutex.Lock()
	s.current = pair
	s.mutex.Unlock()
	return nil
}

// CurrentCA returns the CA key pair currently in force.
func (s *Store) CurrentCA() *ca.KeyPair {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.current
}

func (s *Store) persist(pair *ca.KeyPair, passphrase string) error {
	keyDER, err := x509.MarshalPKCS8PrivateKey(pair.PrivateKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeystore, err)
	}
	payload, err := json.Marshal(envelope{Type: pair.Type, PrivateKey: keyDER, CertDER: pair.DER})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeystore, err)
	}

	sealed, err := seal(payload, passphrase)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeystore, err)
	}

	path := filepath.Join(s.dir, caKeyFileName)
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrKeystore, err)
	}
	return nil
}

// seal derives a key from passphrase via PBKDF2-HMAC-SHA256 and encrypts
// payload with AES-256-GCM. Output layout: salt || nonce || ciphertext.
func seal(payload []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, kdfKeyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// open reverses seal and reconstructs the CA key pair. GCM authentication
// failure is the signal for "wrong passphrase" and is not distinguished
// from file corruption; both cause the caller to regenerate the keystore.
func open(data []byte, passphrase string) (*ca.KeyPair, error) {
	if len(data) < saltLength {
		return nil, errors.New("keystore file truncated")
	}
	salt := data[:saltLength]
	rest := data[saltLength:]

	key := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, kdfKeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, errors.New("keystore file truncated")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	payload, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}

	keyAny, err := x509.ParsePKCS8PrivateKey(env.PrivateKey)
	if err != nil {
		return nil, err
	}
	signer, ok := toSigner(keyAny)
	if !ok {
		return nil, errors.New("unsupported private key type in keystore")
	}

	cert, err := x509.ParseCertificate(env.CertDER)
	if err != nil {
		return nil, err
	}

	return &ca.KeyPair{Type: env.Type, PrivateKey: signer, Certificate: cert, DER: env.CertDER}, nil
}

// toSigner narrows a parsed PKCS8 key to the concrete types ca.GenerateKey
// can produce; both satisfy crypto.Signer, but we only ever persist what
// we ourselves issued.
func toSigner(key any) (crypto.Signer, bool) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, true
	case *ecdsa.PrivateKey:
		return k, true
	default:
		return nil, false
	}
}

// --- device certificate store -------------------------------------------

// CertificateID is the SHA-256 hex digest of a certificate's PEM bytes;
// it is both the registry's cache key and the on-disk file name.
// Invariant: equal PEMs yield equal ids.
func CertificateID(pemBytes []byte) string {
	sum := sha256.Sum256(pemBytes)
	return hex.EncodeToString(sum[:])
}

// certificateIDToPath returns the on-disk path for id, fanned out into
// subdirectories by the id's first two hex characters so no single
// directory accumulates every device certificate on the fleet. Always
// rooted under the store's configured directory.
func (s *Store) certificateIDToPath(id string) string {
	return filepath.Join(s.dir, certsDirName, id[:2], id+".pem")
}

// StoreDeviceCertificateIfAbsent persists pemBytes under id if not
// already present. A second call with the same id is a no-op that
// preserves the first content, never an error: the registry calls this
// unconditionally on every successful cloud verification.
func (s *Store) StoreDeviceCertificateIfAbsent(id string, pemBytes []byte) error {
	path := s.certificateIDToPath(id)

	s.certMutex.Lock()
	defer s.certMutex.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, pemBytes, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// LoadDeviceCertificate returns the PEM bytes stored under id, or
// ErrNotFound if no certificate with that id has been stored.
func (s *Store) LoadDeviceCertificate(id string) ([]byte, error) {
	path := s.certificateIDToPath(id)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return data, nil
}

// GenerateRandomPassphrase produces a passphraseLength-character string
// of printable ASCII, suitable as the CA keystore's default passphrase
// when the operator supplies none.
func GenerateRandomPassphrase() (string, error) {
	raw := make([]byte, passphraseLength)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeystore, err)
	}
	out := make([]byte, passphraseLength)
	for i, b := range raw {
		out[i] = byteToASCIIChar(b)
	}
	return string(out), nil
}

// byteToASCIIChar maps an arbitrary byte onto the printable ASCII range
// 0x20 (space) through 0x7E ('~'), a 95-character
// alphabet, by reduction modulo 95.
func byteToASCIIChar(b byte) byte {
	const first = 0x20
	const alphabetSize = 0x7E - 0x20 + 1
	return first + b%alphabetSize
}
