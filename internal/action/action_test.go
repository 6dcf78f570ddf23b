package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect_BuyEnglish(t *testing.T) {
	assert.Equal(t, Buy, Detect("buy eurusd @ 1.0850"))
}

func TestDetect_SellEnglish(t *testing.T) {
	assert.Equal(t, Sell, Detect("sell xauusd @ 1950.50"))
}

func TestDetect_BuyPersian(t *testing.T) {
	assert.Equal(t, Buy, Detect("خرید یورو @ 1.0850"))
}

func TestDetect_SellPersian(t *testing.T) {
	assert.Equal(t, Sell, Detect("بفروش طلا @ 1950"))
}

func TestDetect_Substring(t *testing.T) {
	assert.Equal(t, Sell, Detect("selling gold now"))
}

func TestDetect_None(t *testing.T) {
	assert.Equal(t, None, Detect("good morning everyone"))
}

func TestDetect_FirstTokenWins(t *testing.T) {
	assert.Equal(t, Buy, Detect("buy then sell later"))
}
