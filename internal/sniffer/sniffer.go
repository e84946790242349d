// Package sniffer suggests candidate skills for a working directory from
// declarative file-presence rules alone, without any language model
//, grounded on
// original_source/packages/python/core/tests/units/test_router/test_sniffer_index.py's
// IntentSniffer.
package sniffer

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	domain "github.com/skillkernel/kernel/internal/domain/skill"
)

// declarativeScore is every rule match's contribution, per the fixture's
// "declarative rules should contribute full score (1.0)".
const declarativeScore = 1.0

// Scored pairs a suggested skill with its match score.
type Scored struct {
	Skill string
	Score float64
}

// Sniffer holds one or more declarative rules per skill and matches them
// against a working directory's file listing.
type Sniffer struct {
	mu    sync.RWMutex
	rules map[string][]domain.SnifferRule
}

// New constructs an empty Sniffer.
func New() *Sniffer {
	return &Sniffer{rules: make(map[string][]domain.SnifferRule)}
}

// RegisterRules adds skill's rules to the Sniffer, appending to any already
// registered for that skill.
func (s *Sniffer) RegisterRules(skill string, rules []domain.SnifferRule) {
	if len(rules) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[skill] = append(s.rules[skill], rules...)
}

// LoadFromIndex replaces the Sniffer's rule set with the rules attached to
// each discovered skill, skipping skills with none. Returns the total
// number of rules loaded.
func (s *Sniffer) LoadFromIndex(skills []domain.DiscoveredSkill) int {
	fresh := make(map[string][]domain.SnifferRule)
	count := 0
	for _, sk := range skills {
		if len(sk.Rules) == 0 {
			continue
		}
		fresh[sk.Name] = append(fresh[sk.Name], sk.Rules...)
		count += len(sk.Rules)
	}
	s.mu.Lock()
	s.rules = fresh
	s.mu.Unlock()
	return count
}

// Sniff returns every skill with at least one rule matching cwd, sorted for
// determinism.
func (s *Sniffer) Sniff(cwd string) []string {
	scored := s.SniffWithScores(cwd)
	names := make([]string, len(scored))
	for i, sc := range scored {
		names[i] = sc.Skill
	}
	sort.Strings(names)
	return names
}

// SniffWithScores returns every matching skill alongside its match score,
// ranked highest-score-first then alphabetically.
func (s *Sniffer) SniffWithScores(cwd string) []Scored {
	entries, err := os.ReadDir(cwd)
	if err != nil {
		return nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Scored
	for skill, rules := range s.rules {
		if anyRuleMatches(rules, names) {
			out = append(out, Scored{Skill: skill, Score: declarativeScore})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Skill < out[j].Skill
	})
	return out
}

func anyRuleMatches(rules []domain.SnifferRule, names []string) bool {
	for _, r := range rules {
		for _, name := range names {
			switch r.Kind {
			case domain.RuleFileExists:
				if name == r.Pattern {
					return true
				}
			case domain.RuleFilePattern:
				if ok, _ := filepath.Match(r.Pattern, name); ok {
					return true
				}
			}
		}
	}
	return false
}
