package container

import (
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/serverlesspool/poolengine/pool"
)

func TestPortBindingMapsHostAndContainerToSamePort(t *testing.T) {
	exposed, bindings, err := portBinding(8080)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(exposed))
	assert.Equal(t, 1, len(bindings))

	for p, bs := range bindings {
		assert.Equal(t, "8080", string(p.Port()))
		assert.Equal(t, "8080", bs[0].HostPort)
		assert.Equal(t, "127.0.0.1", bs[0].HostIP)
	}
}

func TestScriptBaseStripsDirectory(t *testing.T) {
	assert.Equal(t, "entrypoint.js", scriptBase("/srv/scripts/entrypoint.js"))
	assert.Equal(t, "entrypoint.js", scriptBase("entrypoint.js"))
}

func TestValidateRequiresImageName(t *testing.T) {
	a := &Adapter{}
	err := a.Validate(pool.Config{})
	assert.Error(t, err)
}
