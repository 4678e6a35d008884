package config

// Lending captures the engine's deployment parameters.
type Lending struct {
	Owner                   string `toml:"Owner"`
	OwnerKeystorePath       string `toml:"OwnerKeystorePath"`
	Custody                 string `toml:"Custody"`
	QuoteAsset              string `toml:"QuoteAsset"`
	QuoteDecimals           uint8  `toml:"QuoteDecimals"`
	PoolManager             string `toml:"PoolManager"`
	AuctionIntervalSeconds  uint64 `toml:"AuctionIntervalSeconds"`
	InitialLTVBps           uint64 `toml:"InitialLTVBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	VerifyAction            string `toml:"VerifyAction"`
	Paused                  bool   `toml:"Paused"`
}

// Quota limits order submissions per identity.
type Quota struct {
	MaxOrdersPerEpoch uint32 `toml:"MaxOrdersPerEpoch"`
	EpochSeconds      uint32 `toml:"EpochSeconds"`
}

// Collateral is one allow-listed collateral asset.
type Collateral struct {
	Asset    string `toml:"Asset"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	// Price is the bootstrap quote value of one whole unit, in quote base
	// units. Empty leaves the asset unpriced until the feed observes it.
	Price string `toml:"Price"`
}

// Market is a maturity to list at startup, either absolute or relative to
// the load time.
type Market struct {
	MaturityUnix uint64 `toml:"MaturityUnix"`
	TermDays     uint64 `toml:"TermDays"`
}

// Pricing configures the TWAP collateral feed.
type Pricing struct {
	TWAPWindowSeconds uint64 `toml:"TWAPWindowSeconds"`
	MaxAgeSeconds     uint64 `toml:"MaxAgeSeconds"`
	// SampleDSN points at the SQLite file persisting price samples. Empty
	// keeps samples in memory only.
	SampleDSN string `toml:"SampleDSN"`
}
