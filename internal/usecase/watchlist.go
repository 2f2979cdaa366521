package usecase

// DefaultWatchlist is scanned in priority order when an agent config
// carries no watchlist of its own.
var DefaultWatchlist = []string{
	// top liquidity
	"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT", "BNB/USDT",
	"DOGE/USDT", "ADA/USDT", "AVAX/USDT", "LINK/USDT", "DOT/USDT",
	// majors
	"NEAR/USDT", "SUI/USDT", "APT/USDT", "ATOM/USDT", "HBAR/USDT",
	"XLM/USDT", "ETC/USDT", "LTC/USDT", "BCH/USDT", "ALGO/USDT",
	"ICP/USDT", "FIL/USDT", "XMR/USDT", "TRX/USDT",
	// L2 / DeFi
	"UNI/USDT", "AAVE/USDT", "CRV/USDT", "MKR/USDT", "SNX/USDT",
	"DYDX/USDT", "IMX/USDT", "GRT/USDT", "SAND/USDT", "AXS/USDT",
	"COMP/USDT", "KAVA/USDT", "THETA/USDT", "ZEC/USDT", "NEO/USDT",
	"DASH/USDT", "IOTA/USDT", "CHZ/USDT", "ENJ/USDT", "VET/USDT",
	"ROSE/USDT",
}

// CoinTiers ranks symbols by realized per-coin profitability in the
// v4 backtests. T1 sizes up 1.3x, T3 sizes down to 0.7x.
var CoinTiers = map[string]string{
	"ICP/USDT": "T1", "XMR/USDT": "T1", "IOTA/USDT": "T1", "DASH/USDT": "T1",
	"COMP/USDT": "T1", "KAVA/USDT": "T1", "UNI/USDT": "T1", "SAND/USDT": "T1",
	"AXS/USDT": "T1", "NEAR/USDT": "T1", "DOT/USDT": "T1", "CHZ/USDT": "T1",
	"ENJ/USDT": "T1", "ADA/USDT": "T1", "VET/USDT": "T1", "BCH/USDT": "T1",
	"ATOM/USDT": "T1", "ROSE/USDT": "T1", "DYDX/USDT": "T1", "IMX/USDT": "T1",
	"AAVE/USDT": "T1", "XLM/USDT": "T1", "LINK/USDT": "T1", "ALGO/USDT": "T1",
	"CRV/USDT": "T1",
	"MKR/USDT": "T2", "ETC/USDT": "T2", "NEO/USDT": "T2", "THETA/USDT": "T2",
	"ZEC/USDT": "T2", "GRT/USDT": "T2", "SNX/USDT": "T2", "HBAR/USDT": "T2",
	"ETH/USDT": "T2", "FIL/USDT": "T2", "BTC/USDT": "T2", "BNB/USDT": "T2",
	"XRP/USDT": "T2",
	"LTC/USDT": "T3", "TRX/USDT": "T3", "DOGE/USDT": "T3",
}

var TierMultiplier = map[string]float64{"T1": 1.3, "T2": 1.0, "T3": 0.7}

// SkipCoins are persistent losers in the backtests; never traded.
var SkipCoins = map[string]bool{
	"BERA/USDT": true, "IP/USDT": true, "LIT/USDT": true, "TROY/USDT": true,
	"VIRTUAL/USDT": true, "BONK/USDT": true, "PEPE/USDT": true,
}
