package types

// PrecipitationReading is one measurement row's date and rainfall. Date is YYYY-MM-DD.
type PrecipitationReading struct {
	Date string
	Prcp *float64
}

// TemperatureStats holds MIN/AVG/MAX of tobs. All three are nil when no rows matched.
type TemperatureStats struct {
	Min *float64
	Avg *float64
	Max *float64
}

// Temps returns the stats in [min, avg, max] order.
func (s TemperatureStats) Temps() []*float64 {
	return []*float64{s.Min, s.Avg, s.Max}
}

type StationsResponse struct {
	Stations []string `json:"stations"`
}

type TempsResponse struct {
	Temps []*float64 `json:"temps"`
}
