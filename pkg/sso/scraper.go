package sso

import (
	"regexp"
	"strings"
)

// PageScraper pulls the values the flow needs out of server-rendered pages.
// Swap it out when the broker or identity provider change their markup.
type PageScraper interface {
	// BrokerEntry returns the identity-provider entry URL embedded in the
	// broker page, unescaped but possibly relative.
	BrokerEntry(body string) (string, bool)
	// HiddenFields returns the lt and execution form values; either may be empty.
	HiddenFields(body string) (lt, execution string)
}

var (
	defaultEntryPattern     = regexp.MustCompile(`"loginUrl"\s*:\s*"([^"]*broker\\?/cas\\?/login[^"]*)"`)
	defaultLTPattern        = regexp.MustCompile(`name="lt"\s+value="([^"]+)"`)
	defaultExecutionPattern = regexp.MustCompile(`name="execution"\s+value="([^"]+)"`)
)

// RegexScraper matches each value with one capture group
type RegexScraper struct {
	Entry     *regexp.Regexp
	LT        *regexp.Regexp
	Execution *regexp.Regexp
}

// NewRegexScraper returns a scraper for the broker's inline JSON config and
// the CAS login form.
func NewRegexScraper() *RegexScraper {
	return &RegexScraper{
		Entry:     defaultEntryPattern,
		LT:        defaultLTPattern,
		Execution: defaultExecutionPattern,
	}
}

var jsonUnescaper = strings.NewReplacer(`\/`, `/`, `\u0026`, `&`, `&amp;`, `&`)

func (s *RegexScraper) BrokerEntry(body string) (string, bool) {
	m := s.Entry.FindStringSubmatch(body)
	if m == nil || m[1] == "" {
		return "", false
	}
	return jsonUnescaper.Replace(m[1]), true
}

func (s *RegexScraper) HiddenFields(body string) (string, string) {
	return firstGroup(s.LT, body), firstGroup(s.Execution, body)
}

func firstGroup(re *regexp.Regexp, body string) string {
	if re == nil {
		return ""
	}
	if m := re.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}
