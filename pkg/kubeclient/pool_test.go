package kubeclient

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	calls := 0
	return newPool(func() (*connection, error) {
		calls++
		return &connection{client: &http.Client{}}, nil
	})
}

func TestPool_AcquireBuildsNewConnectionWhenIdleEmpty(t *testing.T) {
	p := newTestPool(t)
	assert.Equal(t, 0, p.idleCount())

	conn, err := p.acquire()
	require.NoError(t, err)
	require.NotNil(t, conn)
}

func TestPool_ReleaseReturnsHealthyConnectionToIdle(t *testing.T) {
	p := newTestPool(t)
	conn, err := p.acquire()
	require.NoError(t, err)

	p.release(conn)
	assert.Equal(t, 1, p.idleCount())
}

func TestPool_ReleaseDiscardsBrokenConnection(t *testing.T) {
	p := newTestPool(t)
	conn, err := p.acquire()
	require.NoError(t, err)

	conn.discardConn()
	p.release(conn)
	assert.Equal(t, 0, p.idleCount())
}

func TestPool_AcquireIsLIFO(t *testing.T) {
	p := newTestPool(t)
	a, err := p.acquire()
	require.NoError(t, err)
	b, err := p.acquire()
	require.NoError(t, err)

	p.release(a)
	p.release(b)

	got, err := p.acquire()
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestPool_ReleaseNilIsNoop(t *testing.T) {
	p := newTestPool(t)
	p.release(nil)
	assert.Equal(t, 0, p.idleCount())
}
