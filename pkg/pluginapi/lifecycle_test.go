package pluginapi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterPlugin struct {
	loaded   int
	unloaded int
	executed int
	last     string
}

func (c *counterPlugin) Name() string        { return "counter" }
func (c *counterPlugin) Version() string     { return "1.0.0" }
func (c *counterPlugin) Description() string { return "counts calls" }
func (c *counterPlugin) Load() error         { c.loaded++; return nil }
func (c *counterPlugin) Unload() error       { c.unloaded++; return nil }

func (c *counterPlugin) Execute(ctx context.Context, input string) error {
	if input == "" {
		return ExecutionError(c.Name(), "empty input")
	}
	c.executed++
	c.last = input
	return nil
}

type brokenPlugin struct {
	counterPlugin
}

func (b *brokenPlugin) Load() error { return errors.New("cannot open device") }

type panickyPlugin struct {
	counterPlugin
}

func (p *panickyPlugin) Load() error   { panic("no memory") }
func (p *panickyPlugin) Unload() error { panic("double free") }

type namelessPlugin struct {
	counterPlugin
}

func (n *namelessPlugin) Name() string { return "" }

func TestLoadUnloadPaired(t *testing.T) {
	p, err := Load[counterPlugin]()
	require.NoError(t, err)
	c := p.(*counterPlugin)
	assert.Equal(t, 1, c.loaded)
	assert.Zero(t, c.executed)

	require.NoError(t, Unload[counterPlugin](p))
	assert.Equal(t, 1, c.unloaded)
	assert.Zero(t, c.executed)
}

func TestLoadReturnsFreshInstances(t *testing.T) {
	a, err := Load[counterPlugin]()
	require.NoError(t, err)
	b, err := Load[counterPlugin]()
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestUnloadNilIsNoop(t *testing.T) {
	assert.NoError(t, Unload[counterPlugin](nil))
	var typedNil *counterPlugin
	assert.NoError(t, Unload[counterPlugin](typedNil))
}

func TestUnloadForeignType(t *testing.T) {
	p, err := Load[counterPlugin]()
	require.NoError(t, err)
	err = Unload[namelessPlugin](p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoad))
	assert.Zero(t, p.(*counterPlugin).unloaded)
}

func TestLoadTranslatesErrors(t *testing.T) {
	_, err := Load[brokenPlugin]()
	require.Error(t, err)
	assert.Equal(t, "Load error in pluginapi.brokenPlugin: cannot open device", err.Error())
}

func TestLoadRecoversPanic(t *testing.T) {
	p, err := Load[panickyPlugin]()
	assert.Nil(t, p)
	require.Error(t, err)
	assert.Equal(t, KindLoad, KindOf(err))
	assert.Contains(t, err.Error(), "panic during load: no memory")

	err = Unload[panickyPlugin](&panickyPlugin{})
	require.Error(t, err)
	assert.Equal(t, KindResource, KindOf(err))
}

func TestLoadRejectsEmptyIdentity(t *testing.T) {
	_, err := Load[namelessPlugin]()
	require.Error(t, err)
	assert.Equal(t, KindLoad, KindOf(err))
	assert.Contains(t, err.Error(), "plugin name is empty")
}

type leakyNamelessPlugin struct {
	namelessPlugin
}

func (l *leakyNamelessPlugin) Unload() error { return errors.New("device busy") }

func TestLoadReportsTeardownAfterIdentityFailure(t *testing.T) {
	_, err := Load[leakyNamelessPlugin]()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoad)
	assert.ErrorIs(t, err, ErrResource)
	assert.Contains(t, err.Error(), "plugin name is empty")
	assert.Contains(t, err.Error(), "pluginapi.leakyNamelessPlugin resource error: device busy")
}

func TestIdentityStableAcrossExecutes(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		p, err := Load[counterPlugin]()
		require.NoError(t, err)
		before := Describe(p)
		for i := 0; i < n; i++ {
			require.NoError(t, p.Execute(context.Background(), "tick"))
		}
		assert.Equal(t, before, Describe(p))
		assert.Equal(t, n, p.(*counterPlugin).executed)
		require.NoError(t, Unload[counterPlugin](p))
	}
}

func TestExecuteErrorRendering(t *testing.T) {
	p, err := Load[counterPlugin]()
	require.NoError(t, err)
	err = p.Execute(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, "Execution error in counter: empty input", err.Error())
}

func TestCompatibleAPI(t *testing.T) {
	assert.True(t, CompatibleAPI("1.4.0", APIVersion))
	assert.True(t, CompatibleAPI("v1.0.0", "1.9.2"))
	assert.False(t, CompatibleAPI("2.0.0", APIVersion))
	assert.False(t, CompatibleAPI("", APIVersion))
}
