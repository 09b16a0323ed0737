package metering

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	xerrors "SnowRail/internal/errors"
)

// Resource identifies a metered operation.
type Resource string

// Metered resources. The set is fixed; the price table must cover all of them.
const (
	ResourcePayrollExecute Resource = "payroll_execute"
	ResourcePaymentProcess Resource = "payment_process"
	ResourceContractTest   Resource = "contract_test"
	ResourcePaymentSingle  Resource = "payment_single"
	ResourceSwapExecute    Resource = "swap_execute"
)

// Resources returns every metered resource in a stable order.
func Resources() []Resource {
	return []Resource{
		ResourcePayrollExecute,
		ResourcePaymentProcess,
		ResourceContractTest,
		ResourcePaymentSingle,
		ResourceSwapExecute,
	}
}

// Price is the configured charge for one resource.
type Price struct {
	Amount      string `yaml:"price" json:"price"`
	Asset       string `yaml:"asset" json:"asset"`
	Description string `yaml:"description" json:"description"`
}

// PriceTable maps each resource to its price.
type PriceTable map[Resource]Price

type priceFile struct {
	Resources map[string]Price `yaml:"resources"`
}

// LoadPriceTable reads a YAML price table from disk.
func LoadPriceTable(path string) (PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "read price table",
			xerrors.WithMetadata("path", path))
	}
	return ParsePriceTable(data)
}

// ParsePriceTable decodes and validates a YAML price table. Prices are
// normalized decimal strings; unknown resources are rejected.
func ParsePriceTable(data []byte) (PriceTable, error) {
	var file priceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "decode price table")
	}

	known := make(map[Resource]struct{}, len(Resources()))
	for _, r := range Resources() {
		known[r] = struct{}{}
	}

	table := make(PriceTable, len(file.Resources))
	for name, price := range file.Resources {
		resource := Resource(strings.TrimSpace(name))
		if _, ok := known[resource]; !ok {
			return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unknown metered resource %q", name))
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(price.Amount))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("invalid price for %s", resource))
		}
		if !amount.IsPositive() {
			return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("price for %s must be positive", resource))
		}
		if strings.TrimSpace(price.Asset) == "" {
			return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("asset for %s is empty", resource))
		}
		price.Amount = amount.String()
		table[resource] = price
	}

	if missing := table.missing(); len(missing) > 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "price table incomplete",
			xerrors.WithMetadata("missing", strings.Join(missing, ",")))
	}
	return table, nil
}

func (t PriceTable) missing() []string {
	var out []string
	for _, r := range Resources() {
		if _, ok := t[r]; !ok {
			out = append(out, string(r))
		}
	}
	sort.Strings(out)
	return out
}
