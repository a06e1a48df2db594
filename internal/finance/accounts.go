package finance

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Account identifies a ledger account.
type Account struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}

// Chart maps posting roles to ledger accounts.
type Chart struct {
	Cash       Account `yaml:"cash"`
	Bank       Account `yaml:"bank"`
	Receivable Account `yaml:"receivable"`
	Revenue    Account `yaml:"revenue"`
	Expense    Account `yaml:"expense"`
}

// DefaultChart returns the built-in chart of accounts.
func DefaultChart() Chart {
	return Chart{
		Cash:       Account{Code: "1000", Name: "Cash"},
		Bank:       Account{Code: "1010", Name: "Bank"},
		Receivable: Account{Code: "1200", Name: "Accounts Receivable"},
		Revenue:    Account{Code: "4000", Name: "Fee Revenue"},
		Expense:    Account{Code: "5000", Name: "Operating Expenses"},
	}
}

// LoadChart reads a YAML override on top of the default chart. Roles missing
// from the file keep their defaults. An empty path yields the default chart.
func LoadChart(path string) (Chart, error) {
	chart := DefaultChart()
	if strings.TrimSpace(path) == "" {
		return chart, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Chart{}, fmt.Errorf("finance: read chart: %w", err)
	}
	return ParseChart(raw)
}

// ParseChart decodes a YAML chart override.
func ParseChart(raw []byte) (Chart, error) {
	var override Chart
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Chart{}, fmt.Errorf("finance: parse chart: %w", err)
	}
	chart := DefaultChart()
	merge(&chart.Cash, override.Cash)
	merge(&chart.Bank, override.Bank)
	merge(&chart.Receivable, override.Receivable)
	merge(&chart.Revenue, override.Revenue)
	merge(&chart.Expense, override.Expense)
	if err := chart.Validate(); err != nil {
		return Chart{}, err
	}
	return chart, nil
}

func merge(dst *Account, src Account) {
	if code := strings.TrimSpace(src.Code); code != "" {
		dst.Code = code
	}
	if name := strings.TrimSpace(src.Name); name != "" {
		dst.Name = name
	}
}

// Validate ensures every role maps to a distinct account code.
func (c Chart) Validate() error {
	seen := make(map[string]string)
	for role, acc := range map[string]Account{
		"cash":       c.Cash,
		"bank":       c.Bank,
		"receivable": c.Receivable,
		"revenue":    c.Revenue,
		"expense":    c.Expense,
	} {
		if acc.Code == "" || acc.Name == "" {
			return fmt.Errorf("finance: chart account %s incomplete", role)
		}
		if other, dup := seen[acc.Code]; dup {
			return errors.New("finance: chart accounts " + other + " and " + role + " share code " + acc.Code)
		}
		seen[acc.Code] = role
	}
	return nil
}

// Settlement returns the asset account money moves through for method.
func (c Chart) Settlement(method PaymentMethod) Account {
	if method == MethodCash {
		return c.Cash
	}
	return c.Bank
}
