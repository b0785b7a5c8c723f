package main

import (
	"log"
	"os"
	"regexp"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// rule is one compiled override: any description matching one of its patterns
// is pinned to the account, bypassing whatever the oracle said.
type rule struct {
	code     string
	name     string
	patterns []*regexp.Regexp
}

type ruleSet struct {
	rules []rule
}

// readRules loads a YAML file mapping account codes to regex pattern lists:
//
//	"5100":
//	  - "(?i)payroll"
//	  - "(?i)gusto"
//
// Codes not in the chart and patterns that fail to compile are skipped with a
// warning. A missing file is not an error; overrides are optional.
func readRules(path string, chart *Chart) (*ruleSet, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ruleSet{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read rules file: %v", path)
	}

	raw := make(map[string][]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "unable to parse rules file: %v", path)
	}

	rs := &ruleSet{}
	for code, patterns := range raw {
		if !chart.Valid(code) {
			log.Printf("Skipping rule for unknown account code %s", code)
			continue
		}
		r := rule{code: code, name: chart.NameFor(code)}
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				log.Printf("Skipping invalid rule pattern %q for account %s: %v", p, code, err)
				continue
			}
			r.patterns = append(r.patterns, re)
		}
		if len(r.patterns) > 0 {
			rs.rules = append(rs.rules, r)
		}
	}
	return rs, nil
}

// match returns the pinned account for desc, if any rule matches.
func (rs *ruleSet) match(desc string) (code, name string, ok bool) {
	if rs == nil {
		return "", "", false
	}
	for _, r := range rs.rules {
		for _, re := range r.patterns {
			if re.MatchString(desc) {
				return r.code, r.name, true
			}
		}
	}
	return "", "", false
}
