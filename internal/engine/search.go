// SPDX-License-Identifier: MIT

package engine

import (
	"fmt"
	"net/url"

	"github.com/poisson-noise/poisson/internal/persona"
	"github.com/poisson-noise/poisson/internal/rng"
	"github.com/poisson-noise/poisson/internal/topics"
)

// Search issues queries against mainstream engines with realistic market
// share weighting.
type Search struct {
	est Estimator
}

type searchProvider struct {
	name   string
	format string
	weight float64
}

var searchProviders = []searchProvider{
	{name: "google", format: "https://www.google.com/search?q=%s", weight: 0.55},
	{name: "bing", format: "https://www.bing.com/search?q=%s", weight: 0.15},
	{name: "duckduckgo", format: "https://duckduckgo.com/?q=%s", weight: 0.20},
	{name: "yahoo", format: "https://search.yahoo.com/search?p=%s", weight: 0.10},
}

const searchFollowProbability = 0.20

// NewSearch builds the search engine over a live byte-cost source.
func NewSearch(est Estimator) *Search {
	return &Search{est: estimatorOr(est)}
}

func (e *Search) Name() string          { return "search" }
func (e *Search) RequiresBrowser() bool { return true }

// ProduceTask picks a provider by market-share weight and formats the query
// URL; 20% of searches click through to a result.
func (e *Search) ProduceTask(t topics.Topic, _ persona.Persona, src *rng.Source) *Task {
	p := pickProvider(src)
	task := &Task{
		Engine:        e.Name(),
		Kind:          KindPage,
		URL:           searchURL(p, t.Query),
		Query:         t.Query,
		Category:      t.Category,
		ExpectedBytes: e.est.Estimate(e.Name()),
	}
	if src.Float64() < searchFollowProbability {
		task.FollowLinks = 1
	}
	if len(t.ResearchRun) > 0 {
		task.ExtraQueries = make([]string, 0, len(t.ResearchRun))
		for _, q := range t.ResearchRun {
			task.ExtraQueries = append(task.ExtraQueries, searchURL(p, q))
		}
	}
	return task
}

func pickProvider(src *rng.Source) searchProvider {
	total := 0.0
	for _, p := range searchProviders {
		total += p.weight
	}
	u := src.Float64() * total
	acc := 0.0
	for _, p := range searchProviders {
		acc += p.weight
		if u < acc {
			return p
		}
	}
	return searchProviders[0]
}

func searchURL(p searchProvider, query string) string {
	return fmt.Sprintf(p.format, url.QueryEscape(query))
}

// SearchURL formats a query against a market-share-weighted provider draw.
// Shared with the extension task generator.
func SearchURL(src *rng.Source, query string) string {
	return searchURL(pickProvider(src), query)
}
