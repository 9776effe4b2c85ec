package validators

import (
	"testing"

	kverrors "github.com/couchbase/kvengine/errors"
	"github.com/couchbase/kvengine/storedvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGetAcceptsBareKey(t *testing.T) {
	err := ValidateGet(&Request{Key: []byte("k")})
	require.NoError(t, err)
}

func TestValidateGetRejectsEmptyKey(t *testing.T) {
	err := ValidateGet(&Request{})
	require.Error(t, err)
	assert.Equal(t, kverrors.Einval, kverrors.Code(err))
}

func TestValidateGetRejectsUnexpectedBody(t *testing.T) {
	err := ValidateGet(&Request{Key: []byte("k"), Body: []byte("x")})
	require.Error(t, err)
}

func TestValidateMutationAcceptsSetExtlen8(t *testing.T) {
	err := ValidateMutation(&Request{Key: []byte("k"), Extras: make([]byte, 8)}, 8)
	require.NoError(t, err)
}

func TestValidateMutationRejectsWrongExtlen(t *testing.T) {
	err := ValidateMutation(&Request{Key: []byte("k"), Extras: make([]byte, 4)}, 8)
	require.Error(t, err)
}

func TestValidateMutationRejectsXattrWithoutClientSupport(t *testing.T) {
	err := ValidateMutation(&Request{
		Key: []byte("k"), Extras: make([]byte, 8),
		Datatype: storedvalue.DatatypeXattr, Body: []byte{0, 0, 0, 0},
	}, 8)
	require.Error(t, err)
	assert.Equal(t, kverrors.Einval, kverrors.Code(err))
}

func TestValidateMutationRejectsMalformedXattrBlob(t *testing.T) {
	err := ValidateMutation(&Request{
		Key: []byte("k"), Extras: make([]byte, 8),
		Datatype: storedvalue.DatatypeXattr, ClientXattrEnabled: true,
		Body: []byte{0, 0, 0, 99},
	}, 8)
	require.Error(t, err)
	assert.Equal(t, kverrors.XattrEinval, kverrors.Code(err))
}

func TestValidateMutationAcceptsWellFormedXattrBlob(t *testing.T) {
	err := ValidateMutation(&Request{
		Key: []byte("k"), Extras: make([]byte, 8),
		Datatype: storedvalue.DatatypeXattr, ClientXattrEnabled: true,
		Body: []byte{0, 0, 0, 0, 'v'},
	}, 8)
	require.NoError(t, err)
}

func TestValidateDCPOpenAcceptsProducerNoValue(t *testing.T) {
	err := ValidateDCPOpen(&Request{Key: []byte("conn"), Extras: make([]byte, 8), BucketSupportsDCP: true}, DCPOpenProducer)
	require.NoError(t, err)
}

func TestValidateDCPOpenRejectsUnknownFlagBits(t *testing.T) {
	err := ValidateDCPOpen(&Request{Key: []byte("conn"), Extras: make([]byte, 8), BucketSupportsDCP: true}, 1<<30)
	require.Error(t, err)
	assert.Equal(t, kverrors.Einval, kverrors.Code(err))
}

func TestValidateDCPOpenRejectsNotifierCombinedWithOtherFlags(t *testing.T) {
	err := ValidateDCPOpen(&Request{Key: []byte("conn"), Extras: make([]byte, 8), BucketSupportsDCP: true}, DCPOpenNotifier|DCPOpenProducer)
	require.Error(t, err)
}

func TestValidateDCPOpenRejectsValueWithoutCollectionsFlag(t *testing.T) {
	err := ValidateDCPOpen(&Request{Key: []byte("conn"), Extras: make([]byte, 8), Body: []byte("x"), BucketSupportsDCP: true}, DCPOpenProducer)
	require.Error(t, err)
}

func TestValidateDCPOpenNotSupportedWithoutBucketHook(t *testing.T) {
	err := ValidateDCPOpen(&Request{Key: []byte("conn"), Extras: make([]byte, 8)}, DCPOpenProducer)
	require.Error(t, err)
	assert.Equal(t, kverrors.NotSupported, kverrors.Code(err))
}

func TestValidateDCPAddStreamAcceptsWellFormedRequest(t *testing.T) {
	err := ValidateDCPAddStream(&Request{Extras: make([]byte, 4), Body: make([]byte, 4), BucketSupportsDCP: true}, 0)
	require.NoError(t, err)
}

func TestValidateDCPAddStreamRejectsNonEmptyKey(t *testing.T) {
	err := ValidateDCPAddStream(&Request{Key: []byte("x"), Extras: make([]byte, 4), Body: make([]byte, 4), BucketSupportsDCP: true}, 0)
	require.Error(t, err)
}

func TestValidateIOCTLSetAcceptsWithinBounds(t *testing.T) {
	err := ValidateIOCTLSet(&Request{Key: []byte("k"), Body: append([]byte("k"), []byte("v")...)})
	require.NoError(t, err)
}

func TestValidateIOCTLSetRejectsOversizedKey(t *testing.T) {
	err := ValidateIOCTLSet(&Request{Key: make([]byte, IOCTLKeyLength+1)})
	require.Error(t, err)
}

func TestValidateSelectBucketAcceptsKeyAtBoundary(t *testing.T) {
	err := ValidateSelectBucket(&Request{Key: make([]byte, SelectBucketKeyLength)})
	require.NoError(t, err)
}

func TestValidateSelectBucketRejectsKeyOverBoundary(t *testing.T) {
	err := ValidateSelectBucket(&Request{Key: make([]byte, SelectBucketKeyLength+1)})
	require.Error(t, err)
}
