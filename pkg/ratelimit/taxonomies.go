package ratelimit

import "time"

// DefaultTaxonomies returns the predefined capability taxonomies from
// spec §4.1: discord, kv, object_storage, http, runtime.
func DefaultTaxonomies() []Taxonomy {
	return []Taxonomy{
		{
			Name:   "discord",
			Global: Quota{Burst: 50, Period: 10 * time.Second},
			PerAction: map[string]Quota{
				"create_message": {Burst: 30, Period: 10 * time.Second},
				"ban":            {Burst: 5, Period: 60 * time.Second},
				"kick":           {Burst: 5, Period: 60 * time.Second},
			},
			// Read-only actions don't compete with the global send budget.
			GlobalIgnore: map[string]struct{}{
				"get_channel": {},
				"get_member":  {},
			},
		},
		{
			Name:   "kv",
			Global: Quota{Burst: 100, Period: 10 * time.Second},
			PerAction: map[string]Quota{
				"set": {Burst: 60, Period: 10 * time.Second},
			},
		},
		{
			Name:   "object_storage",
			Global: Quota{Burst: 30, Period: 10 * time.Second},
		},
		{
			Name:   "http",
			Global: Quota{Burst: 20, Period: 10 * time.Second},
		},
		{
			Name:   "runtime",
			Global: Quota{Burst: 10, Period: 10 * time.Second},
		},
	}
}
