package confirmation

import "github.com/shopspring/decimal"

func parseDecimalAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
