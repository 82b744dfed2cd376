package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventIDOrdering(t *testing.T) {
	earlier := newEventIDAt(time.UnixMilli(1_000_000))
	later := newEventIDAt(time.UnixMilli(1_000_001))

	assert.Less(t, earlier.String(), later.String())
}

func TestEventIDStringParseRoundTrip(t *testing.T) {
	id := NewEventID()

	parsed, err := ParseEventID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestEventIDStringLength(t *testing.T) {
	id := NewEventID()
	assert.Len(t, id.String(), 26)
}

func TestParseEventIDRejectsBadInput(t *testing.T) {
	_, err := ParseEventID("too-short")
	assert.Error(t, err)

	_, err = ParseEventID("!!!!!!!!!!!!!!!!!!!!!!!!!!")
	assert.Error(t, err)
}

func TestCorrelationID(t *testing.T) {
	id := NewEventID()
	assert.Equal(t, "intent-"+id.String(), CorrelationID(id))
}
