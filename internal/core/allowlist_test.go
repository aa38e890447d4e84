package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugkit/pkg/pluginapi"
)

func TestAllowlist(t *testing.T) {
	a := NewAllowlist([]string{"echo", " ", ""})
	assert.NoError(t, a.Allow(pluginapi.Info{Name: "echo"}))

	err := a.Allow(pluginapi.Info{Name: "sysinfo", Version: "1.0.0"})
	require.ErrorIs(t, err, pluginapi.ErrLoad)
	assert.Equal(t, "Load error in sysinfo: plugin sysinfo 1.0.0 is not in the allowlist", err.Error())

	assert.NoError(t, NewAllowlist(nil).Allow(pluginapi.Info{Name: "anything"}))
	var none *Allowlist
	assert.NoError(t, none.Allow(pluginapi.Info{Name: "anything"}))
}

func TestCreateRejectsDisallowedPlugin(t *testing.T) {
	ctx := context.Background()
	before := echoUnloads.Load()
	lib := openEcho(t, WithAllowlist(NewAllowlist([]string{"sysinfo"})))

	_, err := lib.Create(ctx)
	require.ErrorIs(t, err, pluginapi.ErrLoad)
	assert.Equal(t, 0, lib.Live())
	assert.Equal(t, before+1, echoUnloads.Load())
}

func TestAdoptRejectsDisallowedPlugin(t *testing.T) {
	ctx := context.Background()
	released := 0
	release := func(pluginapi.Plugin) error { released++; return nil }

	_, err := Adopt(ctx, &echoPlugin{}, release, WithAllowlist(NewAllowlist([]string{"sysinfo"})))
	require.ErrorIs(t, err, pluginapi.ErrLoad)
	assert.Equal(t, 1, released)
}
