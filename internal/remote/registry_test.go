package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndNewRoundTrip(t *testing.T) {
	Register("stub-test-backend", func(credentials string) (Store, error) {
		return nil, nil
	})

	got, err := New("stub-test-backend", "creds")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewUnknownBackendErrors(t *testing.T) {
	_, err := New("definitely-not-registered", "")
	require.Error(t, err)
}
