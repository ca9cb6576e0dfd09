package application

import "time"

// SetClock replaces the cache clock.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// SetClock replaces the evaluator clock.
func (e *StalenessEvaluator) SetClock(now func() time.Time) { e.now = now }
