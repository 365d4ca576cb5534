package enums

// StockLevel buckets on-hand inventory against its minimum threshold.
type StockLevel string

const (
	StockLevelOK       StockLevel = "ok"
	StockLevelWarning  StockLevel = "warning"
	StockLevelCritical StockLevel = "critical"
)

func (s StockLevel) String() string {
	return string(s)
}
