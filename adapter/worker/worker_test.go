package worker

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/serverlesspool/poolengine/pool"
)

func TestCreateAcceptsConnectionsThenTerminateStopsIt(t *testing.T) {
	a := &Adapter{}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	assert.NoError(t, l.Close())

	native, err := a.Create(context.Background(), port, "w1", pool.Config{})
	assert.NoError(t, err)

	h := &pool.Handle{Name: "w1", Port: port, Native: native}
	assert.True(t, a.Liveness(context.Background(), h))

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	assert.NoError(t, err)
	conn.Close()

	assert.NoError(t, a.Terminate(context.Background(), h))
	assert.False(t, a.Liveness(context.Background(), h))
}

func TestUsageReportsHeapInUse(t *testing.T) {
	a := &Adapter{}
	h := &pool.Handle{Name: "w1"}

	usage, err := a.Usage(context.Background(), h)
	assert.NoError(t, err)
	assert.True(t, usage.MemoryBytes > 0)
}
