package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	dev, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, dev)

	prod, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, prod)
}

func TestConfigSharedEncoding(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		cfg := config(dev)
		require.Equal(t, "ts", cfg.EncoderConfig.TimeKey)
		require.NotNil(t, cfg.EncoderConfig.EncodeTime)
	}
}
