package delegation

import "time"

// Config represents delegation service configuration.
type Config struct {
	// SettlementDelay is the minimum bridge propagation time after commit or undelegate.
	SettlementDelay time.Duration
	// SettlementJitter adds up to this much random delay to each undelegation.
	SettlementJitter time.Duration
	// PollInterval is how often the settler looks for settleable accounts.
	PollInterval time.Duration
}

// DefaultConfig returns the default delegation configuration.
func DefaultConfig() Config {
	return Config{
		SettlementDelay:  2 * time.Second,
		SettlementJitter: 3 * time.Second,
		PollInterval:     500 * time.Millisecond,
	}
}
