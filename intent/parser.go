package intent

import (
	"regexp"
	"strconv"
	"strings"
)

const number = `\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`

var (
	triggerPattern       = regexp.MustCompile(`(?i)\b(?:buy|get|purchase|order)\b(?:\s+(?:a|an|the|some)\b)?`)
	triggerClausePattern = regexp.MustCompile(`(?is)^.*?\b(?:buy|get|purchase|order)\b(?:\s+(?:a|an|the|some)\b)?\s*`)
	priceClausePattern   = regexp.MustCompile(`(?i)\s*\bfor\s+(?:[$₹€£¥]\s*(?:` + number + `)|(?:usd|inr|eur|gbp|jpy)\b\s*(?:` + number + `)|(?:` + number + `)\s*(?:(?:usd|dollars?|bucks|inr|rupees?|eur|euros?|gbp|pounds?|jpy|yen)\b|[$₹€£¥]))`)
	vendorClausePattern  = regexp.MustCompile(`(?i)\s*\bfrom\s+(.*?)(\s+with\b.*)?$`)
	shippingPattern      = regexp.MustCompile(`(?i)\s*\bwith\s+(?:(?:express|overnight|rush|fast)\s+)?(?:shipping|delivery)\b`)
	expressPattern       = regexp.MustCompile(`(?i)\b(?:express|overnight|rush|fast)\b`)
	spacePattern         = regexp.MustCompile(`\s+`)
)

type currencyRule struct {
	code    string
	pattern *regexp.Regexp
}

// currencyRules are evaluated in order; the first match wins.
var currencyRules = []currencyRule{
	newCurrencyRule("USD", `\$`, `usd`, `usd|dollars?|bucks`),
	newCurrencyRule("INR", `₹`, `inr`, `inr|rupees?`),
	newCurrencyRule("EUR", `€`, `eur`, `eur|euros?`),
	newCurrencyRule("GBP", `£`, `gbp`, `gbp|pounds?`),
	newCurrencyRule("JPY", `¥`, `jpy`, `jpy|yen`),
}

// newCurrencyRule accepts "for $50", "for usd 50", "for 50 dollars" and
// "for 50$" shaped amounts.
func newCurrencyRule(code, symbol, iso, words string) currencyRule {
	expr := `(?i)\bfor\s+(?:(?:` + symbol + `|` + iso + `\b)\s*(` + number + `)|(` + number + `)\s*(?:(?:` + words + `)\b|` + symbol + `))`
	return currencyRule{code: code, pattern: regexp.MustCompile(expr)}
}

// Parse extracts a buy intent from text. It returns nil when the text does
// not contain a buy trigger ("buy", "get", "purchase" or "order").
//
// Parse is deterministic: it depends on nothing but its input.
func Parse(text string) *Intent {
	if !triggerPattern.MatchString(text) {
		return nil
	}
	amount, currency := parseAmount(text)
	item, vendor := parseItem(text)
	return &Intent{
		Action:        ActionBuy,
		Item:          item,
		Amount:        amount,
		Currency:      currency,
		ShippingSpeed: parseShipping(text),
		Vendor:        vendor,
	}
}

func parseAmount(text string) (float64, string) {
	for _, rule := range currencyRules {
		m := rule.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			continue
		}
		return amount, rule.code
	}
	return DefaultAmount, DefaultCurrency
}

func parseShipping(text string) ShippingSpeed {
	if expressPattern.MatchString(text) {
		return ShippingExpress
	}
	return ShippingStandard
}

func parseItem(text string) (item, vendor string) {
	rest := triggerClausePattern.ReplaceAllString(text, "")
	rest = priceClausePattern.ReplaceAllString(rest, "")
	if m := vendorClausePattern.FindStringSubmatch(rest); m != nil {
		vendor = cleanup(m[1])
		rest = vendorClausePattern.ReplaceAllString(rest, "${2}")
	}
	rest = shippingPattern.ReplaceAllString(rest, "")
	item = cleanup(rest)
	if item == "" {
		item = DefaultItem
	}
	return item, vendor
}

func cleanup(s string) string {
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.Trim(s, " \t\n.,!?;:")
}
