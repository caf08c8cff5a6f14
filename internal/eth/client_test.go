package eth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRPCURL(t *testing.T) {
	assert.NoError(t, ValidateRPCURL("ws://localhost:8546"))
	assert.NoError(t, ValidateRPCURL("wss://mainnet.example.org"))

	err := ValidateRPCURL("http://localhost:8545")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws(s)")

	err = ValidateRPCURL("https://mainnet.example.org")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws(s)")

	err = ValidateRPCURL("ipc:///var/run/geth.ipc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestSplitParams(t *testing.T) {
	args, err := splitParams(json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = splitParams(json.RawMessage(`["0x1",true]`))
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, json.RawMessage(`"0x1"`), args[0])
	assert.Equal(t, json.RawMessage(`true`), args[1])

	args, err = splitParams(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, args)

	args, err = splitParams(nil)
	require.NoError(t, err)
	assert.Nil(t, args)

	// A non-array value is passed as a single positional argument.
	args, err = splitParams(json.RawMessage(`{"fromBlock":"0x0"}`))
	require.NoError(t, err)
	require.Len(t, args, 1)

	_, err = splitParams(json.RawMessage(`[1,`))
	assert.Error(t, err)
}
