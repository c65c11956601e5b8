// Package envelope turns plaintext secrets into storable text and back.
//
// Sealing encrypts the plaintext with KMS under a key alias and encodes the
// binary ciphertext as standard base64. Opening decodes exactly once and asks
// KMS to decrypt. Both directions pass the same fixed encryption context,
// which KMS binds into the ciphertext.
package envelope

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/superset-studio/cloudchain/internal/chainerr"
)

// KeyService is the subset of the KMS client used to seal and open secrets.
type KeyService interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Existing records were sealed under this context; changing it makes them
// undecryptable.
const (
	contextKey   = "string"
	contextValue = "string"
)

// EncryptionContext returns a fresh copy of the context used for every
// encrypt and decrypt call.
func EncryptionContext() map[string]string {
	return map[string]string{contextKey: contextValue}
}

// Encode maps ciphertext bytes to text safe for a string attribute.
func Encode(ciphertext []byte) string {
	return base64.StdEncoding.EncodeToString(ciphertext)
}

// Decode reverses Encode.
func Decode(stored string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(stored)
}

// Seal encrypts plaintext under keyAlias and returns the encoded ciphertext.
func Seal(ctx context.Context, keys KeyService, keyAlias string, plaintext []byte) (string, error) {
	out, err := keys.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(keyAlias),
		Plaintext:         plaintext,
		EncryptionContext: EncryptionContext(),
	})
	if err != nil {
		return "", chainerr.NewServiceError(fmt.Sprintf("kms encrypt with key %s", keyAlias), err)
	}
	if out == nil || out.CiphertextBlob == nil {
		return "", chainerr.NewServiceError("kms encrypt", errors.New("no ciphertext returned from KMS"))
	}

	return Encode(out.CiphertextBlob), nil
}

// Open decodes a sealed value and decrypts it.
func Open(ctx context.Context, keys KeyService, stored string) ([]byte, error) {
	blob, err := Decode(stored)
	if err != nil {
		return nil, chainerr.NewServiceError("decode stored secret", err)
	}

	out, err := keys.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    blob,
		EncryptionContext: EncryptionContext(),
	})
	if err != nil {
		return nil, chainerr.NewServiceError("kms decrypt", err)
	}
	if out == nil {
		return nil, chainerr.NewServiceError("kms decrypt", errors.New("no plaintext returned from KMS"))
	}
	if out.Plaintext == nil {
		return []byte{}, nil
	}

	return out.Plaintext, nil
}
