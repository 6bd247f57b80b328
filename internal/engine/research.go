// SPDX-License-Identifier: MIT

package engine

import (
	"github.com/poisson-noise/poisson/internal/datafiles"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/topics"
)

// Research visits privacy, legal, and civic-information sites. Opt-in: the
// browsing pattern it produces is distinctive.
type Research struct {
	tables func() *datafiles.Snapshot
	est    Estimator
}

// Categories the research engine serves, in preference order.
var researchCategories = []string{"privacy_tools", "legal", "education"}

// NewResearch builds the research engine over the live data tables.
func NewResearch(tables func() *datafiles.Snapshot, est Estimator) *Research {
	return &Research{tables: tables, est: estimatorOr(est)}
}

func (e *Research) Name() string          { return "research" }
func (e *Research) RequiresBrowser() bool { return true }

// ProduceTask prefers the topic's own category when it is a research one,
// otherwise draws from the research categories.
func (e *Research) ProduceTask(t topics.Topic, _ persona.Persona, src *rng.Source) *Task {
	snap := e.tables()
	if snap == nil {
		return nil
	}

	category := ""
	for _, c := range researchCategories {
		if c == t.Category {
			category = c
			break
		}
	}
	if category == "" {
		category = researchCategories[src.Intn(len(researchCategories))]
	}

	sites := snap.Sites[category]
	if len(sites) == 0 {
		return nil
	}
	return &Task{
		Engine:        e.Name(),
		Kind:          KindPage,
		URL:           pickWeightedURL(sites, src),
		Query:         t.Query,
		Category:      category,
		ExpectedBytes: e.est.Estimate(e.Name()),
		FollowLinks:   1 + src.Intn(3),
	}
}
