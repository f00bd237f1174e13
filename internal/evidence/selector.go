package evidence

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Selector chooses the accounts to read for a condition.
type Selector interface {
	Select(condition string, keywords []string) []string
}

// Entity maps a term found in a condition to the accounts worth reading.
type Entity struct {
	Keyword  string   `yaml:"keyword"`
	Accounts []string `yaml:"accounts"`
}

// Directory selects accounts by entity terms appearing anywhere in the
// lowercased condition. With no match it falls back to Defaults.
type Directory struct {
	Entities []Entity `yaml:"entities"`
	Defaults []string `yaml:"defaults"`
}

// DefaultDirectory returns the built-in entity table.
func DefaultDirectory() *Directory {
	return &Directory{
		Entities: []Entity{
			{"apple", []string{"Apple", "tim_cook", "AppleSupport"}},
			{"iphone", []string{"Apple", "tim_cook", "AppleSupport"}},
			{"google", []string{"Google", "sundarpichai", "Android"}},
			{"android", []string{"Google", "Android", "sundarpichai"}},
			{"microsoft", []string{"Microsoft", "satyanadella", "Windows"}},
			{"windows", []string{"Microsoft", "Windows", "satyanadella"}},
			{"tesla", []string{"Tesla", "elonmusk", "TeslaMotors"}},
			{"spacex", []string{"SpaceX", "elonmusk"}},
			{"amazon", []string{"Amazon", "AmazonHelp", "JeffBezos"}},
			{"facebook", []string{"Facebook", "Meta", "zuck"}},
			{"meta", []string{"Meta", "Facebook", "zuck"}},
			{"netflix", []string{"Netflix", "netflixhelp"}},
			{"bitcoin", []string{"Bitcoin", "bitcoinmagazine", "DocumentingBTC"}},
			{"ethereum", []string{"ethereum", "VitalikButerin", "ethdotorg"}},
			{"crypto", []string{"Bitcoin", "ethereum", "binance", "cz_binance"}},
			{"nft", []string{"opensea", "nft_tokens", "BoredApeYC"}},
		},
		Defaults: []string{"cnnbrk", "BBCBreaking", "WSJ", "CNBC", "Reuters"},
	}
}

// LoadDirectory reads a YAML entity table from path.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var d Directory
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse directory %s: %w", path, err)
	}
	for i, e := range d.Entities {
		d.Entities[i].Keyword = strings.ToLower(strings.TrimSpace(e.Keyword))
	}
	return &d, nil
}

func (d *Directory) Select(condition string, _ []string) []string {
	lower := strings.ToLower(condition)
	var accounts []string
	for _, e := range d.Entities {
		if e.Keyword != "" && strings.Contains(lower, e.Keyword) {
			accounts = append(accounts, e.Accounts...)
		}
	}
	if len(accounts) == 0 {
		accounts = d.Defaults
	}
	return dedupe(accounts)
}

// AllowList always selects the same accounts.
type AllowList []string

func (a AllowList) Select(string, []string) []string {
	return dedupe(a)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
