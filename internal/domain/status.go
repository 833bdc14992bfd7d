package domain

// DecisionStats tallies per-reason outcomes of signal processing, grouped the
// way operators inspect them: rejections (never eligible), skips (eligible
// but not actioned now), successes, and hard errors.
type DecisionStats struct {
	Rejections map[string]int
	Skips      map[string]int
	Successes  int
	Errors     int
}

// EngineStatus is a point-in-time summary of the engine exposed to callers.
type EngineStatus struct {
	Running       bool
	OpenPositions int
	TotalTrades   int
	WinningTrades int
	WinRate       float64
	TotalPnL      float64
	DailyPnL      float64
	Stats         DecisionStats
}
