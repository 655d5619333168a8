package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CBC20(t *testing.T) {
	proc, err := New("cbc20", "CB19C7ACC4C292D2943BA23C2EAA5D9C5A6652A8710C")
	require.NoError(t, err)
	assert.Equal(t, "cbc20", proc.Kind())
	assert.Equal(t, "cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c", proc.Address())
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New("erc9999", "cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c")
	assert.Error(t, err)
}

func TestTableName(t *testing.T) {
	name := TableName("core_etl", "cbc20", "cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c")
	assert.Equal(t, "core_etl_cbc20_cb19c7ac_transfers", name)
}
