package internal

import (
	"fmt"
	"math/rand/v2"
)

// DefaultSymbols 預設的卡牌符號（每個符號兩張）
var DefaultSymbols = []string{"🍎", "🍌", "🍇", "🍓"}

// Dealer 產生一副新牌面
//
// Room 在建立時與每一局重置時呼叫，測試可以注入固定牌面。
type Dealer func() []string

// NewDeck 依照符號目錄產生洗好的牌面
//
// 每個符號貢獻兩張卡，回傳長度為 2N 的均勻隨機排列。
// 不會修改傳入的 catalog。
//
// 隨機來源不需要密碼學強度（休閒遊戲），使用 math/rand/v2 的
// Fisher-Yates（rand.Shuffle）即可保證均勻分佈。
func NewDeck(catalog []string) []string {
	deck := make([]string, 0, len(catalog)*2)
	for _, symbol := range catalog {
		deck = append(deck, symbol, symbol)
	}

	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	return deck
}

// ShuffledDealer 回傳每次呼叫都重新洗牌的 Dealer
func ShuffledDealer(catalog []string) Dealer {
	symbols := append([]string(nil), catalog...)
	return func() []string {
		return NewDeck(symbols)
	}
}

// FixedDealer 回傳永遠發出相同牌面的 Dealer（測試與除錯用）
func FixedDealer(board ...string) Dealer {
	return func() []string {
		return append([]string(nil), board...)
	}
}

// validateBoard 檢查牌面結構
//
// 牌面必須是偶數長度，且每個符號恰好出現兩次。
// 違反代表 Dealer 有 bug，屬於內部缺陷，直接 panic。
func validateBoard(board []string) {
	if len(board) == 0 || len(board)%2 != 0 {
		panic(fmt.Sprintf("牌面長度不合法: %d", len(board)))
	}

	counts := make(map[string]int, len(board)/2)
	for _, symbol := range board {
		counts[symbol]++
	}
	for symbol, n := range counts {
		if n != 2 {
			panic(fmt.Sprintf("符號 %q 出現 %d 次，必須恰好兩次", symbol, n))
		}
	}
}
