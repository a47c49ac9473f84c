package query

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/canonica-labs/dealquery/internal/errors"
)

// Analysis parameters select a preset projection over the filtered rows.
const (
	ParamAnalysisType = "analysisType"
	ParamFields       = "fields"
)

// Analysis types.
const (
	AnalysisTrend        = "trend"
	AnalysisComparison   = "comparison"
	AnalysisDistribution = "distribution"
)

var analysisKeys = map[string]string{
	"analysistype":  ParamAnalysisType,
	"analysis_type": ParamAnalysisType,
	"fields":        ParamFields,
}

// ExpandAnalysis rewrites an analysisType request into the select, groupBy
// and orderBy parameters it stands for. Parameters the caller gave
// explicitly are kept. Requests without analysisType are returned as is.
//
//	trend         fields (default year,month) with COUNT(*), grouped and ordered by them
//	comparison    first field as category, COUNT(*) plus SUM and AVG of the others,
//	              largest count first
//	distribution  fields with COUNT(*), grouped and ordered by them
func ExpandAnalysis(params Params) (Params, error) {
	var kind, fieldsParam *Param
	out := make(Params, 0, len(params)+3)
	explicit := make(map[string]bool)
	for i := range params {
		kv := params[i]
		switch analysisKeys[cases.Fold().String(kv.Key)] {
		case ParamAnalysisType:
			kind = &params[i]
			continue
		case ParamFields:
			fieldsParam = &params[i]
			continue
		}
		if name, ok := structural[cases.Fold().String(kv.Key)]; ok {
			explicit[name] = true
		}
		out = append(out, kv)
	}

	if kind == nil {
		if fieldsParam != nil {
			return nil, errors.NewMalformedValue(fieldsParam.Key, fieldsParam.Value, "fields requires analysisType")
		}
		return params, nil
	}

	var fields []string
	if fieldsParam != nil {
		for _, part := range strings.Split(fieldsParam.Value, ",") {
			name := strings.TrimSpace(part)
			if name == "" {
				return nil, errors.NewMalformedValue(fieldsParam.Key, fieldsParam.Value, "empty element in field list")
			}
			fields = append(fields, name)
		}
	}

	var sel, group, order string
	switch strings.ToLower(strings.TrimSpace(kind.Value)) {
	case AnalysisTrend:
		if len(fields) == 0 {
			fields = []string{"year", "month"}
		}
		list := strings.Join(fields, ",")
		sel, group, order = list+",COUNT(*) as count", list, list
	case AnalysisComparison:
		if len(fields) == 0 {
			return nil, errors.NewMalformedValue(kind.Key, kind.Value, "comparison needs fields=category[,measure...]")
		}
		items := []string{fields[0], "COUNT(*) as count"}
		for _, m := range fields[1:] {
			alias := strings.ReplaceAll(m, ".", "_")
			items = append(items, "SUM("+m+") as sum_"+alias, "AVG("+m+") as avg_"+alias)
		}
		sel, group, order = strings.Join(items, ","), fields[0], "count:desc"
	case AnalysisDistribution:
		if len(fields) == 0 {
			return nil, errors.NewMalformedValue(kind.Key, kind.Value, "distribution needs fields=field[,field...]")
		}
		list := strings.Join(fields, ",")
		sel, group, order = list+",COUNT(*) as count", list, list
	default:
		return nil, errors.NewMalformedValue(kind.Key, kind.Value, "analysisType must be trend, comparison or distribution")
	}

	for _, preset := range []Param{
		{Key: ParamSelect, Value: sel},
		{Key: ParamGroupBy, Value: group},
		{Key: ParamOrderBy, Value: order},
	} {
		if !explicit[preset.Key] {
			out = append(out, preset)
		}
	}
	return out, nil
}
