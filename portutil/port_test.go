package portutil

import (
	"net"
	"strconv"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestAllocateReturnsUsablePort(t *testing.T) {
	port, err := Allocate()
	assert.NoError(t, err)
	assert.True(t, port > 0)

	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	assert.NoError(t, err)
	l.Close()
}

func TestAllocateDistinctAcrossCalls(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 8; i++ {
		port, err := Allocate()
		assert.NoError(t, err)
		seen[port] = true
	}
	assert.True(t, len(seen) > 1)
}
