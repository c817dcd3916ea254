// Package buffer provides View, a thin wrapper for the receive buffers the
// substrate and segment codec pass around.
package buffer

// View is a slice of a buffer, with a convenience method for shrinking it
// to the portion actually in use.
type View []byte

// NewView allocates a new buffer and returns a View covering it in full.
func NewView(size int) View {
	return make(View, size)
}

// CapLength irreversibly reduces the visible length of the buffer to
// length. It also caps the slice's capacity so the excluded region can't be
// grown back into, which would otherwise expose whatever was left over from
// a previous, larger datagram.
func (v *View) CapLength(length int) {
	*v = (*v)[:length:length]
}
