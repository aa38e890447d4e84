package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugkit/pkg/pluginapi"
)

type orderedPlugin struct {
	echoPlugin
	name string
}

func (o *orderedPlugin) Name() string { return o.name }

func TestRegisterAndExecute(t *testing.T) {
	ctx := context.Background()
	lib := openEcho(t)
	h, err := lib.Create(ctx)
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, r.Register("", h))
	assert.Equal(t, []string{"echo"}, r.Names())
	require.NoError(t, r.Execute(ctx, "echo", "ping"))

	err = r.Register("", h)
	assert.True(t, errors.Is(err, errPluginExists))

	require.NoError(t, r.Release(ctx, "echo"))
	assert.Empty(t, r.Names())
	assert.True(t, h.Released())
}

func TestUnknownPlugin(t *testing.T) {
	r := NewRegistry()
	err := r.Execute(context.Background(), "none", "ping")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errUnknownPlugin))
	assert.True(t, errors.Is(r.Release(context.Background(), "none"), errUnknownPlugin))
}

func TestRegisterRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	assert.ErrorIs(t, r.Register("x", nil), errInvalidArguments)

	lib := openEcho(t)
	h, err := lib.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))
	assert.ErrorIs(t, r.Register("x", h), errInvalidArguments)
}

func TestReleaseAllReverseOrder(t *testing.T) {
	ctx := context.Background()
	var released []string
	r := NewRegistry()
	for _, name := range []string{"first", "second", "third"} {
		h, err := Adopt(ctx, &orderedPlugin{name: name}, func(p pluginapi.Plugin) error {
			released = append(released, p.Name())
			if p.Name() == "second" {
				return errors.New("stuck")
			}
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, r.Register("", h))
	}

	err := r.ReleaseAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release second")
	assert.Equal(t, []string{"third", "second", "first"}, released)
	assert.Empty(t, r.Names())
}
