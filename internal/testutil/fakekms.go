// Package testutil provides in-memory stand-ins for the data store and the
// key-management service.
package testutil

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

type fakeBlob struct {
	keyID     string
	plaintext []byte
	context   map[string]string
}

// FakeKMS issues opaque binary ciphertexts and remembers what each one
// decrypts to. Like KMS, it refuses to decrypt when the encryption context
// differs from the one used at encrypt time.
type FakeKMS struct {
	mu        sync.Mutex
	keys      []string
	blobs     map[string]fakeBlob
	next      int
	encrypts  int
	decrypts  int
	failWith  error
	contextsE []map[string]string
	contextsD []map[string]string
}

// NewFakeKMS returns a fake that accepts only the given key ids. With no ids
// any non-empty key id is accepted.
func NewFakeKMS(keyIDs ...string) *FakeKMS {
	return &FakeKMS{
		keys:  keyIDs,
		blobs: make(map[string]fakeBlob),
	}
}

// FailWith makes every subsequent call return err.
func (f *FakeKMS) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *FakeKMS) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.encrypts++
	f.contextsE = append(f.contextsE, maps.Clone(in.EncryptionContext))
	if f.failWith != nil {
		return nil, f.failWith
	}

	keyID := aws.ToString(in.KeyId)
	if keyID == "" || (len(f.keys) > 0 && !slices.Contains(f.keys, keyID)) {
		return nil, &types.NotFoundException{Message: aws.String(fmt.Sprintf("Alias %s is not found.", keyID))}
	}

	f.next++
	// Leading bytes are deliberately not valid UTF-8.
	blob := append([]byte{0xff, 0xfe, 0x00}, []byte(fmt.Sprintf("fkms-%d", f.next))...)
	f.blobs[string(blob)] = fakeBlob{
		keyID:     keyID,
		plaintext: slices.Clone(in.Plaintext),
		context:   maps.Clone(in.EncryptionContext),
	}

	return &kms.EncryptOutput{CiphertextBlob: blob, KeyId: aws.String(keyID)}, nil
}

func (f *FakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.decrypts++
	f.contextsD = append(f.contextsD, maps.Clone(in.EncryptionContext))
	if f.failWith != nil {
		return nil, f.failWith
	}

	b, ok := f.blobs[string(in.CiphertextBlob)]
	if !ok || !maps.Equal(b.context, in.EncryptionContext) {
		return nil, &types.InvalidCiphertextException{Message: aws.String("ciphertext or encryption context is invalid")}
	}

	plaintext := slices.Clone(b.plaintext)
	if plaintext == nil {
		plaintext = []byte{}
	}
	return &kms.DecryptOutput{Plaintext: plaintext, KeyId: aws.String(b.keyID)}, nil
}

func (f *FakeKMS) EncryptCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encrypts
}

func (f *FakeKMS) DecryptCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decrypts
}

// Calls returns the total number of Encrypt and Decrypt calls.
func (f *FakeKMS) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encrypts + f.decrypts
}

// EncryptContexts returns the encryption context passed to each Encrypt call.
func (f *FakeKMS) EncryptContexts() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.contextsE)
}

// DecryptContexts returns the encryption context passed to each Decrypt call.
func (f *FakeKMS) DecryptContexts() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.contextsD)
}
