package chat

import "strings"

// Category is a recommendation bucket inferred from the user's message.
type Category struct {
	Name        string
	Suggestions []string
}

// classifierRule pairs a set of trigger substrings with a category.
// Rules are evaluated in order, first match wins, so the priority among
// categories is the slice order, not buried control flow.
type classifierRule struct {
	keywords []string
	category Category
}

var classifierRules = []classifierRule{
	{
		keywords: []string{"residential", "resi ", "home ip", "real ip"},
		category: Category{
			Name: "residential",
			Suggestions: []string{
				"Residential proxies use real household IPs, so they are hardest to detect.",
				"Rotating residential pools suit large-scale scraping of protected sites.",
			},
		},
	},
	{
		keywords: []string{"datacenter", "data center", "dc proxy", "cheap"},
		category: Category{
			Name: "datacenter",
			Suggestions: []string{
				"Datacenter proxies are the fastest and cheapest option for unprotected targets.",
				"Prefer dedicated datacenter IPs when accounts or sessions are involved.",
			},
		},
	},
	{
		keywords: []string{"mobile", "4g", "5g", "lte", "cellular"},
		category: Category{
			Name: "mobile",
			Suggestions: []string{
				"Mobile proxies route through carrier networks and share IPs across many users.",
				"Use mobile IPs for targets that aggressively block datacenter ranges.",
			},
		},
	},
	{
		keywords: []string{"rotat", "sticky", "session"},
		category: Category{
			Name: "rotation",
			Suggestions: []string{
				"Rotating proxies change IP per request; sticky sessions hold one IP for minutes.",
				"Pick sticky sessions for logins and carts, per-request rotation for crawling.",
			},
		},
	},
	{
		keywords: []string{"scrap", "crawl", "bot", "captcha", "blocked", "ban"},
		category: Category{
			Name: "scraping",
			Suggestions: []string{
				"Respect robots.txt and rate limits; blocks usually mean too-aggressive crawling.",
				"Combine proxy rotation with realistic headers and backoff to avoid captchas.",
			},
		},
	},
}

// defaultCategory applies when no rule matches.
var defaultCategory = Category{
	Name: "general",
	Suggestions: []string{
		"Proxy choice depends on the target: start with datacenter, escalate to residential.",
	},
}

// Classify maps a message to a recommendation category. It is a pure
// function of the message text: lowercased substring checks against the
// ordered rule table.
func Classify(message string) Category {
	m := strings.ToLower(message)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(m, kw) {
				return rule.category
			}
		}
	}
	return defaultCategory
}

// systemInstruction is the fixed persona prepended to every conversation.
const systemInstruction = "You are the assistant for a proxy and web-scraping knowledge base. " +
	"Answer concisely and practically. If you are unsure, say so rather than guessing. " +
	"Never produce HTML or scripts in your replies."

// buildMessages assembles the upstream conversation: the fixed system
// instruction, a recommendation context derived from the classified
// category, optional page context, then the user turn.
func buildMessages(message, pageContext string) []Message {
	cat := Classify(message)

	var ctx strings.Builder
	ctx.WriteString("Recommendation context (" + cat.Name + "):")
	for _, s := range cat.Suggestions {
		ctx.WriteString("\n- " + s)
	}
	if pageContext != "" {
		ctx.WriteString("\nThe user is reading: " + pageContext)
	}

	return []Message{
		{Role: "system", Content: systemInstruction},
		{Role: "system", Content: ctx.String()},
		{Role: "user", Content: message},
	}
}
