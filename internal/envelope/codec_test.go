package envelope_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superset-studio/cloudchain/internal/chainerr"
	"github.com/superset-studio/cloudchain/internal/envelope"
	"github.com/superset-studio/cloudchain/internal/testutil"
)

const testAlias = "alias/TS_Client_Key"

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestSealOpen_RoundTrip(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewFakeKMS(testAlias)

	allBytes := make([]byte, 256)
	for i := range allBytes {
		allBytes[i] = byte(i)
	}

	cases := map[string][]byte{
		"empty":       {},
		"ascii":       []byte("p@ss!23"),
		"utf8":        []byte("pässwörd ✓"),
		"non-utf8":    {0xff, 0xfe, 0x00, 0x80, 0xc3},
		"every byte":  allBytes,
		"large blob":  randomBytes(t, 4096),
		"trailing nl": []byte("secret\n"),
	}

	for name, plaintext := range cases {
		t.Run(name, func(t *testing.T) {
			stored, err := envelope.Seal(ctx, keys, testAlias, plaintext)
			require.NoError(t, err)

			got, err := envelope.Open(ctx, keys, stored)
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestSeal_EncodesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewFakeKMS()

	stored, err := envelope.Seal(ctx, keys, testAlias, []byte("hunter2"))
	require.NoError(t, err)

	blob, err := base64.StdEncoding.DecodeString(stored)
	require.NoError(t, err)
	// The fake's ciphertexts start with raw binary; a second encoding layer
	// would decode to printable base64 text instead.
	assert.Equal(t, []byte{0xff, 0xfe, 0x00}, blob[:3])

	// Decrypting the raw blob directly must work, proving Open strips exactly
	// one layer.
	out, err := keys.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob, EncryptionContext: envelope.EncryptionContext()})
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), out.Plaintext)
}

func TestOpen_DoubleEncodedValueFails(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewFakeKMS()

	stored, err := envelope.Seal(ctx, keys, testAlias, []byte("x"))
	require.NoError(t, err)

	_, err = envelope.Open(ctx, keys, envelope.Encode([]byte(stored)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, chainerr.ErrCredentialService))
}

func TestEncodeDecode_Inverse(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0xff, 0xff, 0xff},
		[]byte("plain text"),
		randomBytes(t, 1),
		randomBytes(t, 2),
		randomBytes(t, 3),
		randomBytes(t, 1000),
	}
	for _, in := range inputs {
		got, err := envelope.Decode(envelope.Encode(in))
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestSealOpen_UseFixedEncryptionContext(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewFakeKMS()

	stored, err := envelope.Seal(ctx, keys, testAlias, []byte("s"))
	require.NoError(t, err)
	_, err = envelope.Open(ctx, keys, stored)
	require.NoError(t, err)

	want := map[string]string{"string": "string"}
	assert.Equal(t, []map[string]string{want}, keys.EncryptContexts())
	assert.Equal(t, []map[string]string{want}, keys.DecryptContexts())
	assert.Equal(t, 1, keys.EncryptCalls())
	assert.Equal(t, 1, keys.DecryptCalls())
}

func TestEncryptionContext_ReturnsCopy(t *testing.T) {
	c := envelope.EncryptionContext()
	c["string"] = "tampered"
	assert.Equal(t, "string", envelope.EncryptionContext()["string"])
}

func TestSeal_UnknownKeyAliasIsServiceError(t *testing.T) {
	keys := testutil.NewFakeKMS(testAlias)

	_, err := envelope.Seal(context.Background(), keys, "alias/missing", []byte("s"))

	var svcErr *chainerr.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "NotFoundException", svcErr.Code())

	var notFound *types.NotFoundException
	assert.ErrorAs(t, err, &notFound)
}

func TestOpen_KMSFailureIsServiceError(t *testing.T) {
	ctx := context.Background()
	keys := testutil.NewFakeKMS()
	stored, err := envelope.Seal(ctx, keys, testAlias, []byte("s"))
	require.NoError(t, err)

	keys.FailWith(&types.KMSInvalidStateException{Message: nil})
	_, err = envelope.Open(ctx, keys, stored)

	var svcErr *chainerr.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "kms decrypt", svcErr.Op)
	assert.Equal(t, "KMSInvalidStateException", svcErr.Code())
}

func TestOpen_InvalidEncodingNeverReachesKMS(t *testing.T) {
	keys := testutil.NewFakeKMS()

	_, err := envelope.Open(context.Background(), keys, "not base64!!")

	var svcErr *chainerr.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "decode stored secret", svcErr.Op)
	assert.Equal(t, 0, keys.DecryptCalls())
}

type nilOutputKMS struct{}

func (nilOutputKMS) Encrypt(context.Context, *kms.EncryptInput, ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	return &kms.EncryptOutput{}, nil
}

func (nilOutputKMS) Decrypt(context.Context, *kms.DecryptInput, ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	return nil, nil
}

func TestSealOpen_EmptyResponses(t *testing.T) {
	ctx := context.Background()

	_, err := envelope.Seal(ctx, nilOutputKMS{}, testAlias, []byte("s"))
	assert.True(t, errors.Is(err, chainerr.ErrCredentialService))

	_, err = envelope.Open(ctx, nilOutputKMS{}, envelope.Encode([]byte{1}))
	assert.True(t, errors.Is(err, chainerr.ErrCredentialService))
}
