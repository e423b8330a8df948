package pairs

// DefaultCurrencies are the CoinGecko vs_currencies with codes of three or more letters.
var DefaultCurrencies = []string{
	"AED", "ARS", "AUD", "BCH", "BDT", "BHD", "BITS", "BMD", "BNB", "BRL",
	"BTC", "CAD", "CHF", "CLP", "CNY", "CZK", "DKK", "DOT", "EOS", "ETH",
	"EUR", "GBP", "GEL", "HKD", "HUF", "IDR", "ILS", "INR", "JPY", "KRW",
	"KWD", "LINK", "LKR", "LTC", "MMK", "MXN", "MYR", "NGN", "NOK", "NZD",
	"PHP", "PKR", "PLN", "RUB", "SAR", "SATS", "SEK", "SGD", "THB", "TRY",
	"TWD", "UAH", "USD", "VEF", "VND", "XAG", "XAU", "XDR", "XLM", "XRP",
	"YFI", "ZAR",
}
