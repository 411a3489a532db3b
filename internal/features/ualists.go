package features

import "strings"

// Default user-agent watch lists. Matching is case-insensitive substring;
// deployments override both lists through config.
var (
	DefaultKnownBadUA = []string{
		"python-requests",
		"python-urllib",
		"curl/",
		"wget/",
		"scrapy",
		"go-http-client",
		"java/",
		"libwww-perl",
		"httpclient",
		"aiohttp",
		"okhttp",
		"headlesschrome",
		"phantomjs",
		"selenium",
		"puppeteer",
		"playwright",
		"masscan",
		"nmap",
		"nikto",
		"sqlmap",
		"zgrab",
	}

	DefaultKnownBenignCrawlerUA = []string{
		"googlebot",
		"bingbot",
		"slurp",
		"duckduckbot",
		"baiduspider",
		"yandexbot",
		"applebot",
		"facebookexternalhit",
		"twitterbot",
		"linkedinbot",
		"gptbot",
	}
)

// UALists answers known-bad and known-benign membership for user agents.
type UALists struct {
	bad    []string
	benign []string
}

// NewUALists lowercases and stores the watch lists. Empty slices fall back
// to the defaults.
func NewUALists(bad, benign []string) *UALists {
	if len(bad) == 0 {
		bad = DefaultKnownBadUA
	}
	if len(benign) == 0 {
		benign = DefaultKnownBenignCrawlerUA
	}
	lower := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	return &UALists{bad: lower(bad), benign: lower(benign)}
}

// IsKnownBad reports a case-insensitive substring match against the bad
// list.
func (u *UALists) IsKnownBad(ua string) bool {
	return matchAny(ua, u.bad)
}

// IsKnownBenign reports a case-insensitive substring match against the
// benign crawler list.
func (u *UALists) IsKnownBenign(ua string) bool {
	return matchAny(ua, u.benign)
}

func matchAny(ua string, list []string) bool {
	if ua == "" {
		return false
	}
	lowered := strings.ToLower(ua)
	for _, entry := range list {
		if strings.Contains(lowered, entry) {
			return true
		}
	}
	return false
}
