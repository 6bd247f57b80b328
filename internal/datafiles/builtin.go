// SPDX-License-Identifier: MIT

package datafiles

// builtinSites mirrors the shipped sites.yaml so the daemon stays functional
// on a bare install.
func builtinSites() map[string][]WeightedURL {
	return map[string][]WeightedURL{
		"technology": {
			{URL: "https://news.ycombinator.com", Weight: 1.0},
			{URL: "https://arstechnica.com", Weight: 0.9},
			{URL: "https://www.theverge.com", Weight: 0.8},
			{URL: "https://lwn.net", Weight: 0.6},
			{URL: "https://www.tomshardware.com", Weight: 0.7},
			{URL: "https://stackoverflow.com", Weight: 0.8},
		},
		"shopping": {
			{URL: "https://www.amazon.com", Weight: 1.0},
			{URL: "https://www.ebay.com", Weight: 0.7},
			{URL: "https://www.etsy.com", Weight: 0.6},
			{URL: "https://www.bestbuy.com", Weight: 0.6},
			{URL: "https://www.wirecutter.com", Weight: 0.8},
		},
		"news": {
			{URL: "https://www.reuters.com", Weight: 1.0},
			{URL: "https://apnews.com", Weight: 0.9},
			{URL: "https://www.bbc.com/news", Weight: 0.9},
			{URL: "https://www.theguardian.com", Weight: 0.8},
			{URL: "https://www.npr.org", Weight: 0.7},
		},
		"health": {
			{URL: "https://www.mayoclinic.org", Weight: 1.0},
			{URL: "https://www.webmd.com", Weight: 0.8},
			{URL: "https://www.healthline.com", Weight: 0.8},
			{URL: "https://www.nih.gov", Weight: 0.6},
		},
		"travel": {
			{URL: "https://www.tripadvisor.com", Weight: 1.0},
			{URL: "https://www.booking.com", Weight: 0.9},
			{URL: "https://www.lonelyplanet.com", Weight: 0.7},
			{URL: "https://www.kayak.com", Weight: 0.8},
		},
		"hobbies": {
			{URL: "https://www.reddit.com/r/DIY", Weight: 0.9},
			{URL: "https://www.instructables.com", Weight: 0.8},
			{URL: "https://www.allrecipes.com", Weight: 0.8},
			{URL: "https://www.ravelry.com", Weight: 0.4},
			{URL: "https://boardgamegeek.com", Weight: 0.6},
		},
		"finance": {
			{URL: "https://www.investopedia.com", Weight: 1.0},
			{URL: "https://www.nerdwallet.com", Weight: 0.9},
			{URL: "https://finance.yahoo.com", Weight: 0.8},
			{URL: "https://www.bogleheads.org", Weight: 0.5},
		},
		"education": {
			{URL: "https://www.coursera.org", Weight: 0.9},
			{URL: "https://www.khanacademy.org", Weight: 0.9},
			{URL: "https://www.edx.org", Weight: 0.7},
			{URL: "https://en.wikipedia.org", Weight: 1.0},
		},
		"privacy_tools": {
			{URL: "https://www.privacyguides.org", Weight: 1.0},
			{URL: "https://www.eff.org", Weight: 0.9},
			{URL: "https://ssd.eff.org", Weight: 0.7},
			{URL: "https://www.torproject.org", Weight: 0.6},
		},
		"legal": {
			{URL: "https://www.nolo.com", Weight: 1.0},
			{URL: "https://www.law.cornell.edu", Weight: 0.9},
			{URL: "https://www.justia.com", Weight: 0.8},
			{URL: "https://www.courtlistener.com", Weight: 0.5},
		},
	}
}

// builtinOnionSites lists well-known public onion services only.
func builtinOnionSites() []WeightedURL {
	return []WeightedURL{
		{URL: "https://duckduckgogg42xjoc72x3sjasowoarfbgcmvfimaftt6twagswzczad.onion", Weight: 1.0},
		{URL: "https://www.nytimes3xbfgragh.onion", Weight: 0.6},
		{URL: "https://protonmailrmez3lotccipshtkleegetolb73fuirgj7r4o4vfu7ozyd.onion", Weight: 0.5},
		{URL: "https://www.bbcnewsd73hkzno2ini43t4gblxvycyac5aw4gnv7t2rccijh7745uqd.onion", Weight: 0.7},
	}
}
