package stripe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

var testPayload = []byte(`{"id":"evt_123","type":"customer.subscription.updated","created":1740000000,"data":{"object":{"id":"sub_1"}}}`)

func TestConstructEvent(t *testing.T) {
	now := time.Unix(1740000000, 0)
	header := SignPayload(testPayload, testSecret, now)

	ev, err := ConstructEvent(testPayload, header, testSecret, 5*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", ev.ID)
	assert.Equal(t, EventSubscriptionUpdated, ev.Type)
	assert.Equal(t, int64(1740000000), ev.Created)
}

func TestConstructEventMissingHeader(t *testing.T) {
	_, err := ConstructEvent(testPayload, "", testSecret, 5*time.Minute, time.Now())
	assert.ErrorIs(t, err, ErrNoSignature)
}

func TestConstructEventWrongSecret(t *testing.T) {
	now := time.Unix(1740000000, 0)
	header := SignPayload(testPayload, "whsec_other", now)

	_, err := ConstructEvent(testPayload, header, testSecret, 5*time.Minute, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestConstructEventTamperedBody(t *testing.T) {
	now := time.Unix(1740000000, 0)
	header := SignPayload(testPayload, testSecret, now)
	tampered := append([]byte{}, testPayload...)
	tampered[len(tampered)-2] = 'X'

	_, err := ConstructEvent(tampered, header, testSecret, 5*time.Minute, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestConstructEventStaleTimestamp(t *testing.T) {
	signedAt := time.Unix(1740000000, 0)
	header := SignPayload(testPayload, testSecret, signedAt)

	_, err := ConstructEvent(testPayload, header, testSecret, 5*time.Minute, signedAt.Add(10*time.Minute))
	assert.ErrorIs(t, err, ErrTimestampTolerance)
}

func TestConstructEventRotatedSecrets(t *testing.T) {
	now := time.Unix(1740000000, 0)
	old := SignPayload(testPayload, "whsec_old", now)
	current := SignPayload(testPayload, testSecret, now)
	// both v1 entries present during rotation; the matching one suffices
	header := fmt.Sprintf("%s,%s", old, current[len("t=1740000000,"):])

	ev, err := ConstructEvent(testPayload, header, testSecret, 5*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", ev.ID)
}

func TestConstructEventGarbageHeader(t *testing.T) {
	_, err := ConstructEvent(testPayload, "not-a-signature", testSecret, 5*time.Minute, time.Now())
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
