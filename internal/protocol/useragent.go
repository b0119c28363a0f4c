package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AgentParser recognizes client identification strings using the chain's
// configured patterns. Each pattern must capture the client name in group 1
// and major/minor/patch in groups 2–4.
type AgentParser struct {
	patterns []*regexp.Regexp
}

// NewAgentParser compiles the chain's user agent patterns.
func NewAgentParser(patterns []string) (*AgentParser, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("compile user agent pattern %q: %w", pat, err)
		}
		if re.NumSubexp() < 4 {
			return nil, fmt.Errorf("user agent pattern %q must capture name and major/minor/patch", pat)
		}
		compiled = append(compiled, re)
	}
	return &AgentParser{patterns: compiled}, nil
}

// Parse extracts the client name and semantic version from a raw user agent
// string like "/pixd:1.18.0/". Returns ok=false when no pattern matches.
func (p *AgentParser) Parse(userAgent string) (name, version string, ok bool) {
	// Wire user agents conventionally wrap the identification in slashes.
	trimmed := strings.Trim(userAgent, "/")
	for _, re := range p.patterns {
		m := re.FindStringSubmatch(trimmed)
		if m == nil {
			m = re.FindStringSubmatch(userAgent)
		}
		if m == nil {
			continue
		}
		return m[1], m[2] + "." + m[3] + "." + m[4], true
	}
	return "", "", false
}

// CompareVersions compares two dotted numeric versions: -1 when a < b,
// 0 when equal, +1 when a > b. Missing segments count as zero, so
// "1.18" == "1.18.0".
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// IsCurrentVersion reports whether a parsed client version is at or above
// the chain's configured current version.
func IsCurrentVersion(parsed, current string) bool {
	if parsed == "" || current == "" {
		return false
	}
	return CompareVersions(parsed, current) >= 0
}
