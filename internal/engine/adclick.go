// SPDX-License-Identifier: MIT

package engine

import (
	"github.com/poisson-noise/poisson/internal/datafiles"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/topics"
)

// AdClick lands on an ad-heavy page and clicks a qualifying ad element.
// Opt-in and off by default: it costs third parties money.
type AdClick struct {
	tables func() *datafiles.Snapshot
	est    Estimator
}

// Ad-dense categories make a click plausible.
var adClickCategories = []string{"shopping", "news", "travel"}

// NewAdClick builds the ad-click engine over the live data tables.
func NewAdClick(tables func() *datafiles.Snapshot, est Estimator) *AdClick {
	return &AdClick{tables: tables, est: estimatorOr(est)}
}

func (e *AdClick) Name() string          { return "adclick" }
func (e *AdClick) RequiresBrowser() bool { return true }

func (e *AdClick) ProduceTask(t topics.Topic, _ persona.Persona, src *rng.Source) *Task {
	snap := e.tables()
	if snap == nil {
		return nil
	}

	category := t.Category
	sites := snap.Sites[category]
	if len(sites) == 0 {
		category = adClickCategories[src.Intn(len(adClickCategories))]
		sites = snap.Sites[category]
	}
	if len(sites) == 0 {
		return nil
	}
	return &Task{
		Engine:        e.Name(),
		Kind:          KindPage,
		URL:           pickWeightedURL(sites, src),
		Category:      category,
		ExpectedBytes: e.est.Estimate(e.Name()),
		ClickAd:       true,
	}
}
