// SPDX-License-Identifier: MIT

package topics

// BuiltinCategories keeps the model functional when no wordlist files are
// present.
func BuiltinCategories() []Category {
	return []Category{
		{Name: "technology", Weight: 1.0, Terms: []string{
			"best laptop 2025", "python tutorial", "kubernetes deployment",
			"raspberry pi projects", "home server setup", "linux distro comparison",
			"mechanical keyboard review", "self-hosted alternatives",
		}},
		{Name: "shopping", Weight: 1.0, Terms: []string{
			"best hiking boots", "wireless earbuds under 100", "standing desk review",
			"coffee grinder recommendations", "running shoes for flat feet",
			"ergonomic mouse", "air purifier for allergies", "backpack for travel",
		}},
		{Name: "news", Weight: 1.0, Terms: []string{
			"latest tech news", "world news today", "climate change report",
			"stock market analysis", "space exploration news", "cybersecurity breach",
		}},
		{Name: "health", Weight: 0.8, Terms: []string{
			"intermittent fasting benefits", "best stretches for back pain",
			"sleep hygiene tips", "meditation for beginners", "HIIT workout plan",
		}},
		{Name: "travel", Weight: 0.7, Terms: []string{
			"cheap flights to europe", "best time to visit japan", "road trip planner",
			"travel insurance comparison", "train travel europe",
		}},
		{Name: "hobbies", Weight: 0.8, Terms: []string{
			"sourdough starter recipe", "beginner woodworking projects",
			"indoor plants low light", "learn guitar online", "board game recommendations",
		}},
		{Name: "finance", Weight: 0.7, Terms: []string{
			"how to budget", "index fund vs etf", "mortgage rates today",
			"credit score improve", "retirement calculator",
		}},
		{Name: "education", Weight: 0.6, Terms: []string{
			"online courses free", "learn spanish fast", "coding interview prep",
			"academic writing guide", "study abroad programs",
		}},
		{Name: "privacy_tools", Weight: 0.5, RequiresEngine: "research", Terms: []string{
			"best vpn service", "password manager comparison", "encrypted email providers",
			"data broker opt out", "two factor authentication setup",
			"privacy focused search engine",
		}},
		{Name: "legal", Weight: 0.4, RequiresEngine: "research", Terms: []string{
			"tenant rights", "small claims court process", "FOIA request how to",
			"consumer protection laws", "public records search", "pro bono legal aid",
		}},
	}
}
