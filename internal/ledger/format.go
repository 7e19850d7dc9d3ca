package ledger

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency は通貨指定がない場合の表示通貨。
const DefaultCurrency = money.USD

// FormatAmount は金額を通貨の小数桁で四捨五入し、通貨記号付きの表示文字列を返す。
// 丸めは表示時のここでのみ行う。未知の通貨はDefaultCurrencyとして扱う。
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(ResolveCurrency(currency))

	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

// ResolveCurrency は通貨コードを大文字に正規化して返す。未知のコードはDefaultCurrencyを返す。
func ResolveCurrency(currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if money.GetCurrency(code) == nil {
		return DefaultCurrency
	}
	return code
}

// FixedAmount は金額を小数点以下2桁の文字列で返す（例: "12.50"）。
func FixedAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
