package service

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cloo-solutions/alphaledger/internal/domain"
)

// Quantity is a parsed financial figure. Percentages are kept apart from
// amounts and are never compared with them.
type Quantity struct {
	Amount  decimal.Decimal
	Percent bool
}

var (
	koreanUnits = map[string]decimal.Decimal{
		"조": decimal.New(1, 12),
		"억": decimal.New(1, 8),
		"만": decimal.New(1, 4),
	}
	thousand = decimal.New(1, 3)

	// number, optional 천 multiplier, optional large unit
	quantityToken = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)(천)?(조|억|만)?`)

	quantityNoise = strings.NewReplacer(
		",", "", " ", "", "\u00a0", "",
		"원", "", "₩", "", "KRW", "", "krw", "",
		"달러", "", "$", "", "USD", "", "usd", "",
		"약", "", "대략", "", "수준", "", "규모", "", "내외", "", "가량", "", "정도", "", "이상", "", "이하", "",
		"%p", "%",
	)
)

// ParseQuantity reads figures such as "1조", "1.05조", "1조 2000억",
// "5천억", "3,500억원" and "15.3%". ok is false when s is not a single
// figure.
func ParseQuantity(s string) (Quantity, bool) {
	s = quantityNoise.Replace(strings.TrimSpace(s))
	if s == "" {
		return Quantity{}, false
	}

	var q Quantity
	if strings.HasSuffix(s, "%") {
		q.Percent = true
		s = strings.TrimSuffix(s, "%")
	}
	if strings.Contains(s, "%") {
		return Quantity{}, false
	}

	negative := false
	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	total := decimal.Zero
	tokens := 0
	bare := false
	for s != "" {
		m := quantityToken.FindStringSubmatch(s)
		if m == nil {
			return Quantity{}, false
		}
		n, err := decimal.NewFromString(m[1])
		if err != nil {
			return Quantity{}, false
		}
		if m[2] != "" {
			n = n.Mul(thousand)
		}
		if m[3] != "" {
			n = n.Mul(koreanUnits[m[3]])
		}
		if m[2] == "" && m[3] == "" {
			bare = true
		}
		total = total.Add(n)
		tokens++
		s = s[len(m[0]):]
	}

	if tokens == 0 || (tokens > 1 && (bare || q.Percent)) {
		return Quantity{}, false
	}
	if negative {
		total = total.Neg()
	}
	q.Amount = total
	return q, true
}

// CompareQuantities decides a numeric verdict. ok is false when either side
// is not a figure or the two are not comparable. A predicted value of zero
// is verified only by an actual of zero.
func CompareQuantities(predicted, actual string, tolerance float64) (status domain.AssumptionStatus, ok bool) {
	p, ok := ParseQuantity(predicted)
	if !ok {
		return "", false
	}
	a, ok := ParseQuantity(actual)
	if !ok || p.Percent != a.Percent {
		return "", false
	}

	if p.Amount.IsZero() {
		if a.Amount.IsZero() {
			return domain.AssumptionStatusVerified, true
		}
		return domain.AssumptionStatusFailed, true
	}

	deviation := a.Amount.Sub(p.Amount).Abs().Div(p.Amount.Abs())
	if deviation.LessThanOrEqual(decimal.NewFromFloat(tolerance)) {
		return domain.AssumptionStatusVerified, true
	}
	return domain.AssumptionStatusFailed, true
}
