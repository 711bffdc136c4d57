package alloc

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
)

// Candidate is one pending signal competing for execution.
type Candidate struct {
	Symbol   string       `json:"symbol"`
	Side     signals.Side `json:"side"`
	Strategy string       `json:"strategy"`
	Score    float64      `json:"score"`
	At       time.Time    `json:"at"`
}

func (c Candidate) tripleKey() string {
	return fmt.Sprintf("%s|%s|%s", c.Symbol, c.Side, c.Strategy)
}

// Arbitrate resolves same-(symbol, side) conflicts between strategies.
// For each contested pair exactly one candidate survives: highest
// strategy weight, then highest score, then most recent timestamp (with
// strategy name as the final total-order tie-break). Losers enter a
// fixed cooldown during which their (symbol, side, strategy) triple may
// not re-enter arbitration.
func (c *Coordinator) Arbitrate(pending []Candidate, now time.Time) (allowed, cooled []Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneCooldowns(now)

	// Candidates still cooling down are rejected up front.
	var live []Candidate
	for _, cand := range pending {
		if expiry, ok := c.cooldowns[cand.tripleKey()]; ok && now.Before(expiry) {
			cooled = append(cooled, cand)
			continue
		}
		live = append(live, cand)
	}

	groups := make(map[string][]Candidate)
	var order []string
	for _, cand := range live {
		key := cand.Symbol + "|" + string(cand.Side)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], cand)
	}
	sort.Strings(order)

	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			wi := c.strategyWeight(group[i].Strategy)
			wj := c.strategyWeight(group[j].Strategy)
			if wi != wj {
				return wi > wj
			}
			if group[i].Score != group[j].Score {
				return group[i].Score > group[j].Score
			}
			if !group[i].At.Equal(group[j].At) {
				return group[i].At.After(group[j].At)
			}
			return group[i].Strategy < group[j].Strategy
		})

		allowed = append(allowed, group[0])
		for _, loser := range group[1:] {
			c.cooldowns[loser.tripleKey()] = now.Add(c.cfg.Cooldown)
			cooled = append(cooled, loser)
			log.Debug().Str("symbol", loser.Symbol).Str("side", string(loser.Side)).
				Str("strategy", loser.Strategy).Dur("cooldown", c.cfg.Cooldown).
				Msg("signal lost arbitration, cooling")
		}
	}
	return allowed, cooled
}

// CoolingUntil reports a triple's cooldown expiry, ok=false when free.
func (c *Coordinator) CoolingUntil(symbol string, side signals.Side, strategy string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	expiry, ok := c.cooldowns[Candidate{Symbol: symbol, Side: side, Strategy: strategy}.tripleKey()]
	return expiry, ok
}

// PruneCooldowns drops expired entries; called by the audit tick.
func (c *Coordinator) PruneCooldowns(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneCooldowns(now)
}

// pruneCooldowns assumes c.mu is held.
func (c *Coordinator) pruneCooldowns(now time.Time) {
	for key, expiry := range c.cooldowns {
		if !now.Before(expiry) {
			delete(c.cooldowns, key)
		}
	}
}

func (c *Coordinator) strategyWeight(strategy string) float64 {
	if a, ok := c.current.Strategies[strategy]; ok {
		return a.Weight
	}
	return 0
}
