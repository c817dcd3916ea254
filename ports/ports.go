// Package ports picks an ephemeral local port for a client connection when
// the caller hasn't pinned one.
package ports

import (
	"errors"
	"math"
	"math/rand"
)

// firstEphemeral is the first port this package will hand out.
const firstEphemeral uint16 = 16000

// ErrNoPortAvailable is returned when every ephemeral port has been rejected
// by the caller's test function.
var ErrNoPortAvailable = errors.New("ports: no ephemeral port available")

// PickEphemeral randomizes a starting point and scans the ephemeral range,
// calling test for each candidate until test reports one usable (e.g. not
// already held by another local connection to the same remote address), or
// every port has been exhausted.
func PickEphemeral(test func(port uint16) (bool, error)) (uint16, error) {
	count := uint16(math.MaxUint16 - firstEphemeral + 1)
	offset := uint16(rand.Int31n(int32(count)))

	for i := uint16(0); i < count; i++ {
		port := firstEphemeral + uint16((uint32(offset)+uint32(i))%uint32(count))
		ok, err := test(port)
		if err != nil {
			return 0, err
		}
		if ok {
			return port, nil
		}
	}

	return 0, ErrNoPortAvailable
}
