package query

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/canonica-labs/dealquery/internal/errors"
)

// Detail flags turn a transactionId lookup into a single-transaction
// detail request.
const (
	ParamTransactionID        = "transactionId"
	ParamIncludeRelationships = "include_relationships"
	ParamIncludeAdvisors      = "include_advisors"
)

var detailKeys = map[string]string{
	"include_relationships": ParamIncludeRelationships,
	"includerelationships":  ParamIncludeRelationships,
	"include_advisors":      ParamIncludeAdvisors,
	"includeadvisors":       ParamIncludeAdvisors,
}

// Detail is one transaction with, optionally, its related companies and
// advisors.
type Detail struct {
	TransactionID int64
	Relationships bool
	Advisors      bool

	// FlagKey is the first include flag as the caller spelled it.
	FlagKey string
}

// ParseDetail reports whether params is a detail request and parses it.
// A detail request carries at least one include flag and exactly one other
// parameter: a single transactionId.
func ParseDetail(params Params) (*Detail, bool, error) {
	d := &Detail{}
	var rest Params
	for _, kv := range params {
		name, ok := detailKeys[cases.Fold().String(kv.Key)]
		if !ok {
			rest = append(rest, kv)
			continue
		}
		v, err := parseFlag(kv)
		if err != nil {
			return nil, true, err
		}
		if d.FlagKey == "" {
			d.FlagKey = kv.Key
		}
		if name == ParamIncludeRelationships {
			d.Relationships = d.Relationships || v
		} else {
			d.Advisors = d.Advisors || v
		}
	}
	if d.FlagKey == "" {
		return nil, false, nil
	}

	if len(rest) != 1 || !strings.EqualFold(rest[0].Key, ParamTransactionID) {
		return nil, true, errors.NewValidation(d.FlagKey, "include flags take exactly one other parameter, transactionId")
	}
	kv := rest[0]
	id, err := strconv.ParseInt(strings.TrimSpace(kv.Value), 10, 64)
	if err != nil || id <= 0 {
		return nil, true, errors.NewMalformedValue(kv.Key, kv.Value, "expected one positive transaction id")
	}
	d.TransactionID = id
	return d, true, nil
}
