package statements

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default categories when no rule matches.
const (
	DefaultExpenseCategory = "Other"
	DefaultIncomeCategory  = "Income"
)

// Classifier picks a category for a transaction description.
type Classifier interface {
	Classify(description string, t TxnType) string
}

// Rule maps any of its keywords to Category.
type Rule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
	// Type limits the rule to one direction when set.
	Type TxnType `yaml:"type,omitempty"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// KeywordClassifier matches descriptions against ordered keyword rules.
// Matching is a case-insensitive substring test and the first hit wins.
type KeywordClassifier struct {
	rules []Rule
}

// DefaultRules is the built-in keyword table.
func DefaultRules() []Rule {
	return []Rule{
		{Category: "Salary", Keywords: []string{"salary", "payroll"}, Type: TypeIncome},
		{Category: "Interest", Keywords: []string{"interest", "int.pd"}, Type: TypeIncome},
		{Category: "Refund", Keywords: []string{"refund", "reversal", "cashback"}, Type: TypeIncome},
		{Category: "Food & Dining", Keywords: []string{"swiggy", "zomato", "restaurant", "cafe", "food"}},
		{Category: "Groceries", Keywords: []string{"bigbasket", "grocery", "supermarket", "dmart"}},
		{Category: "Transportation", Keywords: []string{"uber", "ola", "fuel", "petrol", "metro", "irctc"}},
		{Category: "Shopping", Keywords: []string{"amazon", "flipkart", "myntra"}},
		{Category: "Utilities", Keywords: []string{"electricity", "water bill", "broadband", "recharge", "gas"}},
		{Category: "Entertainment", Keywords: []string{"netflix", "spotify", "prime video", "movie"}},
		{Category: "Healthcare", Keywords: []string{"pharmacy", "hospital", "clinic", "apollo"}},
		{Category: "Rent", Keywords: []string{"rent"}},
		{Category: "Transfer", Keywords: []string{"neft", "imps", "upi"}},
		{Category: "Cash", Keywords: []string{"atm", "cash wdl"}},
	}
}

// NewKeywordClassifier builds a classifier over rules. Keywords are
// lowercased once and empty entries dropped.
func NewKeywordClassifier(rules []Rule) *KeywordClassifier {
	cleaned := make([]Rule, 0, len(rules))
	for _, r := range rules {
		category := strings.TrimSpace(r.Category)
		if category == "" {
			continue
		}
		var keywords []string
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) == 0 {
			continue
		}
		cleaned = append(cleaned, Rule{Category: category, Keywords: keywords, Type: r.Type})
	}
	return &KeywordClassifier{rules: cleaned}
}

// LoadRules reads a YAML rule table of the form
//
//	rules:
//	  - category: Groceries
//	    keywords: [bigbasket, dmart]
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category rules: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse category rules %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("category rules %s: no rules", path)
	}
	return f.Rules, nil
}

// ClassifierFromFile loads rules from path, or returns the built-in table
// when path is empty.
func ClassifierFromFile(path string) (*KeywordClassifier, error) {
	if strings.TrimSpace(path) == "" {
		return NewKeywordClassifier(DefaultRules()), nil
	}
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return NewKeywordClassifier(rules), nil
}

func (c *KeywordClassifier) Classify(description string, t TxnType) string {
	desc := strings.ToLower(description)
	for _, r := range c.rules {
		if r.Type != "" && r.Type != t {
			continue
		}
		for _, k := range r.Keywords {
			if strings.Contains(desc, k) {
				return r.Category
			}
		}
	}
	if t == TypeIncome {
		return DefaultIncomeCategory
	}
	return DefaultExpenseCategory
}
