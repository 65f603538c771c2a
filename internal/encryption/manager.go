package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"access-service/internal/config"
	"access-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	PurposeSourceAddress = "login_source_address"

	localKeyID = "local"
	version    = "v1"
)

// KMSAPI is the slice of the KMS client the manager needs.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// EncryptionManager does envelope encryption: every value gets a fresh data
// key, and only the wrapped data key is stored next to the ciphertext. With
// KMS disabled the data key is wrapped locally under a process master key.
type EncryptionManager struct {
	kmsClient KMSAPI
	kmsKeyID  string
	useKMS    bool
	masterKey []byte
	keyCache  sync.Map
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

func NewEncryptionManager(cfg *config.Config, kmsClient KMSAPI) *EncryptionManager {
	em := &EncryptionManager{
		kmsClient: kmsClient,
		kmsKeyID:  cfg.KMS.KeyID,
		useKMS:    cfg.KMS.Enabled && kmsClient != nil,
	}
	if !em.useKMS {
		em.masterKey = make([]byte, 32)
		if _, err := rand.Read(em.masterKey); err != nil {
			util.Fatal("Failed to generate local master key", zap.Error(err))
		}
		if cfg.KMS.Enabled {
			util.Warn("KMS enabled without a client, falling back to local key wrapping")
		}
	}
	return em
}

// GenerateDataKey returns a fresh AES-256 data key and its wrapped form.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	if !em.useKMS {
		return em.generateLocalKey()
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.kmsKeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.kmsKeyID,
	}, nil
}

func (em *EncryptionManager) generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	wrapped, err := seal(em.masterKey, key)
	if err != nil {
		return nil, err
	}
	return &DataKey{Plaintext: key, Ciphertext: wrapped, KeyID: localKeyID}, nil
}

// EncryptField encrypts plaintext under a fresh data key.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext, purpose string) (*EncryptedData, error) {
	dataKey, err := em.GenerateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	ciphertext, err := seal(dataKey.Plaintext, []byte(plaintext))
	if err != nil {
		return nil, err
	}

	wrapped := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	em.keyCache.Store(wrapped, dataKey.Plaintext)

	util.Debug("Field encrypted", zap.String("purpose", purpose), zap.String("key_id", dataKey.KeyID))

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   wrapped,
		KeyID:          dataKey.KeyID,
		Version:        version,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField reverses EncryptField.
func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if data == nil || data.EncryptedValue == "" {
		return "", fmt.Errorf("%w: empty value", ErrDecryptionFailed)
	}

	dek, err := em.unwrapKey(ctx, data)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := open(dek, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (em *EncryptionManager) unwrapKey(ctx context.Context, data *EncryptedData) ([]byte, error) {
	if cached, ok := em.keyCache.Load(data.EncryptedDEK); ok {
		return cached.([]byte), nil
	}

	wrapped, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var dek []byte
	if data.KeyID == localKeyID {
		if em.masterKey == nil {
			return nil, fmt.Errorf("%w: local key on a KMS-backed manager", ErrDecryptionFailed)
		}
		dek, err = open(em.masterKey, wrapped)
		if err != nil {
			return nil, err
		}
	} else {
		if !em.useKMS {
			return nil, fmt.Errorf("%w: KMS key without a KMS client", ErrDecryptionFailed)
		}
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		dek = result.Plaintext
	}

	em.keyCache.Store(data.EncryptedDEK, dek)
	return dek, nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ClearCache drops every unwrapped data key.
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func (em *EncryptionManager) CacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}
