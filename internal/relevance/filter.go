// filter.go - Drops records that are not lab results (addresses, IDs, interpretation text)

package relevance

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bosocmputer/lab_report_reconciler/internal/dictionary"
	"github.com/bosocmputer/lab_report_reconciler/internal/heuristic"
	"github.com/bosocmputer/lab_report_reconciler/internal/record"
)

const maxNameRunes = 80

var (
	interpretationRe = regexp.MustCompile(`(?i)\b(?:pre-?diabet\w*|diabetic|good\s+control|fair\s+control|poor\s+control|unsatisfactory\s+control|desirable|borderline(?:\s+high)?|optimal|near\s+optimal|toxicity|interpretation|reference\s+interval)\b`)
	// adequacy bands name a whole row ("Deficiency", "Vitamin D Insufficiency") but are
	// also part of real test names ("G6PD Deficiency Screen")
	adequacyLabelRe  = regexp.MustCompile(`(?i)^(?:vitamin\s+\w+\s+)?(?:deficien\w*|insufficien\w*|sufficien\w*)$`)
	adequacyWordRe   = regexp.MustCompile(`(?i)\b(?:deficien\w*|insufficien\w*|sufficien\w*)\b`)
	rangeFragmentRe  = regexp.MustCompile(`(?i)^[\s<>≤≥=()\[\]]*-?\d+(?:\.\d+)?(?:\s*(?:-|–|—|to)\s*-?\d+(?:\.\d+)?)?[\s)\]]*(?:[a-zµμ%]+(?:/[a-z0-9]+)?)?$`)
	bareNumberRe     = regexp.MustCompile(`^\d{1,6}$`)
	medicalKeywordRe = regexp.MustCompile(`(?i)(?:globin|cholesterol|glucose|sugar|protein|albumin|bilirubin|creatinine|urea|uric|sodium|potassium|chloride|calcium|phosph|magnesium|iron|ferritin|vitamin|hormone|thyro|tsh|\bt3\b|\bt4\b|insulin|cortisol|lipase|amylase|\bsgot\b|\bsgpt\b|\balt\b|\bast\b|\balp\b|\bggt\b|\bldh\b|\bcrp\b|\besr\b|platelet|leucocyte|leukocyte|lymphocyte|neutrophil|monocyte|eosinophil|basophil|\bwbc\b|\brbc\b|hematocrit|haematocrit|\bpcv\b|\bmcv\b|\bmch\b|\bmchc\b|\brdw\b|\bhba1c\b|triglyceride|\bhdl\b|\bldl\b|\bvldl\b|antigen|antibod|\bigg\b|\bigm\b|\bige\b|troponin|\bpsa\b|ketone|nitrite|urobilinogen|specific\s+gravity|\bph\b|cells|casts|crystals|culture|count)`)
)

// Keep reports whether rec looks like a genuine lab result.
func Keep(rec *record.TestRecord, dict *dictionary.Dictionary) bool {
	if rec == nil {
		return false
	}
	name := strings.TrimSpace(rec.TestName)
	value := strings.TrimSpace(rec.LatestValue())
	if name == "" || value == "" {
		return false
	}
	if heuristic.LooksLikeAddress(name) || heuristic.LooksLikeAddress(value) {
		return false
	}
	if isInterpretation(name) {
		return false
	}
	labSignal := hasLabSignal(rec)
	if adequacyLabelRe.MatchString(name) || (!labSignal && adequacyWordRe.MatchString(name)) {
		return false
	}

	if dict.Contains(name) {
		return true
	}
	if labSignal {
		return true
	}
	return medicalKeywordRe.MatchString(name) && !bareNumberRe.MatchString(value)
}

// Filter keeps the records accepted by Keep, preserving order.
func Filter(recs []*record.TestRecord, dict *dictionary.Dictionary) []*record.TestRecord {
	out := make([]*record.TestRecord, 0, len(recs))
	for _, rec := range recs {
		if Keep(rec, dict) {
			out = append(out, rec)
		}
	}
	return out
}

func isInterpretation(name string) bool {
	if len([]rune(name)) > maxNameRunes {
		return true
	}
	if !strings.ContainsFunc(name, unicode.IsLetter) {
		return true
	}
	return rangeFragmentRe.MatchString(name) || interpretationRe.MatchString(name)
}

func hasLabSignal(rec *record.TestRecord) bool {
	for _, field := range []*string{rec.Unit, rec.ReferenceRange, rec.Section, rec.Remarks} {
		if strings.TrimSpace(record.Deref(field)) != "" {
			return true
		}
	}
	return false
}
