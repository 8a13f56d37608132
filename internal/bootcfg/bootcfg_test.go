package bootcfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDefaults(t *testing.T) {
	opts, err := Decode("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "info", opts.LogLevel)
	assert.Equal(t, "ramfs", opts.Root)
	assert.Equal(t, "/bin/sh", opts.Init)
}

func TestDecodeCmdlineOverrides(t *testing.T) {
	opts, err := Decode("quiet loglevel=debug init=/sbin/init", nil, nil)
	require.NoError(t, err)
	// quiet rationalizes loglevel to warn even though debug was requested,
	// matching rationalize()'s precedence.
	assert.Equal(t, "warn", opts.LogLevel)
	assert.True(t, opts.Quiet)
	assert.Equal(t, "/sbin/init", opts.Init)
}

func TestDecodeRejectsRelativeInit(t *testing.T) {
	_, err := Decode("init=bin/sh", nil, nil)
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownRoot(t *testing.T) {
	_, err := Decode("root=ext2", nil, nil)
	assert.Error(t, err)
}

func TestCmdlineTruncatedTo256(t *testing.T) {
	long := make([]byte, 512)
	for i := range long {
		long[i] = 'a'
	}
	opts, err := Decode(string(long), nil, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(opts.CmdLine), maxCmdLine)
}
