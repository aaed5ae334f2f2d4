package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePlaintextSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"empty is valid", 0, false},
		{"at max", MaxPlaintextMessage, false},
		{"one over max", MaxPlaintextMessage + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlaintextSize(make([]byte, tt.size))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMessageTooLarge)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvelopeSize(t *testing.T) {
	assert.ErrorIs(t, ValidateEnvelopeSize(nil), ErrMessageEmpty)
	assert.NoError(t, ValidateEnvelopeSize(make([]byte, MaxEnvelopeSize)))
	assert.ErrorIs(t, ValidateEnvelopeSize(make([]byte, MaxEnvelopeSize+1)), ErrMessageTooLarge)
}

func TestValidateRecipientCount(t *testing.T) {
	assert.ErrorIs(t, ValidateRecipientCount(0), ErrRecipientCountOutOfRange)
	assert.NoError(t, ValidateRecipientCount(1))
	assert.NoError(t, ValidateRecipientCount(MaxRecipients))
	assert.ErrorIs(t, ValidateRecipientCount(MaxRecipients+1), ErrRecipientCountOutOfRange)
}

func TestValidateChunkTotal(t *testing.T) {
	assert.ErrorIs(t, ValidateChunkTotal(0), ErrChunkTotalOutOfRange)
	assert.NoError(t, ValidateChunkTotal(MaxChunkTotal))
	assert.ErrorIs(t, ValidateChunkTotal(MaxChunkTotal+1), ErrChunkTotalOutOfRange)
}

func TestValidateGroupMemberCount(t *testing.T) {
	assert.ErrorIs(t, ValidateGroupMemberCount(0), ErrGroupTooLarge)
	assert.NoError(t, ValidateGroupMemberCount(MaxGroupMembers))
	assert.ErrorIs(t, ValidateGroupMemberCount(MaxGroupMembers+1), ErrGroupTooLarge)
}
