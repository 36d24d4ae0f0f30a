package internal_test

import (
	"testing"

	"github.com/koopa0/system-design/14-memory-match/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewDeck 每個符號恰好兩張
func TestNewDeck(t *testing.T) {
	tests := []struct {
		name    string
		catalog []string
	}{
		{name: "default symbols", catalog: internal.DefaultSymbols},
		{name: "single symbol", catalog: []string{"🍎"}},
		{name: "eight symbols", catalog: []string{"A", "B", "C", "D", "E", "F", "G", "H"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := append([]string(nil), tt.catalog...)

			deck := internal.NewDeck(tt.catalog)

			require.Len(t, deck, len(tt.catalog)*2)
			counts := make(map[string]int)
			for _, s := range deck {
				counts[s]++
			}
			assert.Len(t, counts, len(tt.catalog))
			for _, s := range tt.catalog {
				assert.Equal(t, 2, counts[s], "symbol %q", s)
			}

			// 不修改傳入的 catalog
			assert.Equal(t, original, tt.catalog)
		})
	}
}

// TestNewDeck_Distribution 大量洗牌後每個位置都會出現每個符號
func TestNewDeck_Distribution(t *testing.T) {
	catalog := []string{"A", "B", "C", "D"}

	const rounds = 4000

	counts := make(map[string]int)
	for i := 0; i < rounds; i++ {
		deck := internal.NewDeck(catalog)
		counts[deck[0]]++
	}

	// 期望值 1000，容許相當大的偏差
	for _, s := range catalog {
		assert.Greater(t, counts[s], 700, "symbol %q", s)
		assert.Less(t, counts[s], 1300, "symbol %q", s)
	}
}

// TestShuffledDealer 每次發牌都是新的切片
func TestShuffledDealer(t *testing.T) {
	catalog := []string{"A", "B", "C"}
	dealer := internal.ShuffledDealer(catalog)

	// 建立後修改 catalog 不影響 dealer
	catalog[0] = "Z"

	first := dealer()
	second := dealer()
	require.Len(t, first, 6)
	assert.NotContains(t, first, "Z")

	first[0] = "mutated"
	assert.NotContains(t, second, "mutated")
}

// TestFixedDealer 永遠發出相同牌面
func TestFixedDealer(t *testing.T) {
	dealer := internal.FixedDealer("A", "B", "A", "B")

	board := dealer()
	assert.Equal(t, []string{"A", "B", "A", "B"}, board)

	board[0] = "Z"
	assert.Equal(t, []string{"A", "B", "A", "B"}, dealer())
}
