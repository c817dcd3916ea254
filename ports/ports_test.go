package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickEphemeral(t *testing.T) {
	customErr := errors.New("tester failure")

	tests := []struct {
		name     string
		test     func(port uint16) (bool, error)
		wantErr  error
		wantPort uint16
	}{
		{
			name:    "no-port-available",
			test:    func(port uint16) (bool, error) { return false, nil },
			wantErr: ErrNoPortAvailable,
		},
		{
			name:    "tester-error-propagates",
			test:    func(port uint16) (bool, error) { return false, customErr },
			wantErr: customErr,
		},
		{
			name: "only-one-port-available",
			test: func(port uint16) (bool, error) {
				return port == firstEphemeral+42, nil
			},
			wantPort: firstEphemeral + 42,
		},
		{
			name: "only-ports-below-range-available",
			test: func(port uint16) (bool, error) {
				return port < firstEphemeral, nil
			},
			wantErr: ErrNoPortAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, err := PickEphemeral(tt.test)
			require.Equal(t, tt.wantPort, port)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
