package crawler

import (
	"fmt"
	"strings"
	"time"
)

// Default crawl settings.
const (
	DefaultRosterURLTemplate  = "https://www.swimcloud.com/team/%s/roster/"
	DefaultSwimmerURLTemplate = "https://www.swimcloud.com/swimmer/%s/"
	DefaultDiscoveryWorkers   = 50
	DefaultFetchWorkers       = 20
	DefaultCooldown           = 5 * time.Minute
)

// Config captures the knobs that shape a crawl run.
type Config struct {
	// ListingURLs are the team listing pages scanned for team IDs.
	ListingURLs []string
	// RosterURLTemplate and SwimmerURLTemplate contain a single %s for the ID.
	RosterURLTemplate  string
	SwimmerURLTemplate string
	DiscoveryWorkers   int
	FetchWorkers       int
	// Cooldown is how long every fetch for a team pauses after a block.
	Cooldown time.Duration
	// MaxCooldowns bounds cooldowns per team (and per discovery run).
	// Zero means unlimited.
	MaxCooldowns int
}

func (c Config) withDefaults() Config {
	if c.RosterURLTemplate == "" {
		c.RosterURLTemplate = DefaultRosterURLTemplate
	}
	if c.SwimmerURLTemplate == "" {
		c.SwimmerURLTemplate = DefaultSwimmerURLTemplate
	}
	if c.DiscoveryWorkers == 0 {
		c.DiscoveryWorkers = DefaultDiscoveryWorkers
	}
	if c.FetchWorkers == 0 {
		c.FetchWorkers = DefaultFetchWorkers
	}
	return c
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.DiscoveryWorkers <= 0 {
		return fmt.Errorf("crawler.discovery_workers must be > 0")
	}
	if c.FetchWorkers <= 0 {
		return fmt.Errorf("crawler.fetch_workers must be > 0")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("crawler.cooldown must be >= 0")
	}
	if c.MaxCooldowns < 0 {
		return fmt.Errorf("crawler.max_cooldowns must be >= 0")
	}
	if strings.Count(c.RosterURLTemplate, "%s") != 1 {
		return fmt.Errorf("crawler.roster_url_template must contain exactly one %%s")
	}
	if strings.Count(c.SwimmerURLTemplate, "%s") != 1 {
		return fmt.Errorf("crawler.swimmer_url_template must contain exactly one %%s")
	}
	return nil
}
