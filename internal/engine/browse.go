// SPDX-License-Identifier: MIT

package engine

import (
	"sort"

	"github.com/poisson-noise/poisson/internal/datafiles"
	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/topics"
)

// Browse visits category sites directly and wanders 1-5 internal links.
type Browse struct {
	tables func() *datafiles.Snapshot
	est    Estimator
}

// NewBrowse builds the browse engine over the live data tables.
func NewBrowse(tables func() *datafiles.Snapshot, est Estimator) *Browse {
	return &Browse{tables: tables, est: estimatorOr(est)}
}

func (e *Browse) Name() string          { return "browse" }
func (e *Browse) RequiresBrowser() bool { return true }

// ProduceTask picks a weighted site from the topic's category, falling back
// to any populated category when the topic has no site list.
func (e *Browse) ProduceTask(t topics.Topic, _ persona.Persona, src *rng.Source) *Task {
	snap := e.tables()
	if snap == nil {
		return nil
	}
	sites := snap.Sites[t.Category]
	category := t.Category
	if len(sites) == 0 {
		category, sites = anyCategory(snap.Sites, src)
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
		FollowLinks:   1 + src.Intn(5),
	}
}

func anyCategory(sites map[string][]datafiles.WeightedURL, src *rng.Source) (string, []datafiles.WeightedURL) {
	names := make([]string, 0, len(sites))
	for name, list := range sites {
		if len(list) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	// Map order is random but not seeded; sort for reproducible draws.
	sort.Strings(names)
	name := names[src.Intn(len(names))]
	return name, sites[name]
}

func pickWeightedURL(sites []datafiles.WeightedURL, src *rng.Source) string {
	total := 0.0
	for _, s := range sites {
		total += weightOr1(s.Weight)
	}
	u := src.Float64() * total
	acc := 0.0
	for _, s := range sites {
		acc += weightOr1(s.Weight)
		if u < acc {
			return s.URL
		}
	}
	return sites[len(sites)-1].URL
}

func weightOr1(w float64) float64 {
	if w <= 0 {
		return 1
	}
	return w
}
