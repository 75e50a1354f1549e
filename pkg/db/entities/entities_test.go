package entities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityConstants(t *testing.T) {
	tests := []struct {
		name          string
		entity        Entity
		expectedTable string
	}{
		{name: "Blocks entity", entity: Blocks, expectedTable: "blocks"},
		{name: "Transactions entity", entity: Transactions, expectedTable: "transactions"},
		{name: "Transfers entity", entity: Transfers, expectedTable: "transfers"},
		{name: "Balances entity", entity: Balances, expectedTable: "balances"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedTable, tt.entity.TableName())
			assert.Equal(t, tt.expectedTable, tt.entity.String())
			assert.True(t, tt.entity.IsValid())
		})
	}
}

func TestBlockScopedExcludesBalances(t *testing.T) {
	scoped := BlockScoped()
	assert.NotContains(t, scoped, Balances)
	assert.Contains(t, scoped, Blocks)

	// Callers get a copy.
	scoped[0] = "mutated"
	assert.Equal(t, Blocks, BlockScoped()[0])
}

func TestFromString(t *testing.T) {
	e, err := FromString(" transfers ")
	require.NoError(t, err)
	assert.Equal(t, Transfers, e)

	_, err = FromString("accounts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balances, blocks, transactions, transfers")
}

func TestParseList(t *testing.T) {
	list, err := ParseList("blocks, transfers,,")
	require.NoError(t, err)
	assert.Equal(t, []Entity{Blocks, Transfers}, list)

	_, err = ParseList("blocks,nope")
	require.Error(t, err)
}

func TestEntityJSON(t *testing.T) {
	raw, err := json.Marshal(map[string]Entity{"e": Balances})
	require.NoError(t, err)
	assert.JSONEq(t, `{"e":"balances"}`, string(raw))

	var decoded map[string]Entity
	require.Error(t, json.Unmarshal([]byte(`{"e":"nope"}`), &decoded))
}
