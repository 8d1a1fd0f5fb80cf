// aliases.go - Source field names accepted for each target field

package record

// Every vendor spelling is resolved here and nowhere else.
var (
	nameAliases = []string{
		"testName", "test_name", "TestName", "name", "parameter", "parameterName",
		"parameter_name", "analyte", "test", "investigation", "test_description",
	}
	valueAliases = []string{
		"value", "observed_value", "observedValue", "result", "result_value",
		"resultValue", "reading", "observation",
	}
	unitAliases  = []string{"unit", "units", "uom", "Unit"}
	rangeAliases = []string{
		"referenceRange", "reference_range", "refRange", "ref_range", "range",
		"normalRange", "normal_range", "biological_reference_interval",
		"bio_ref_interval", "referenceInterval", "reference_interval",
	}
	sectionAliases     = []string{"section", "category", "categoryName", "category_name", "group", "panel"}
	pageAliases        = []string{"page", "pageNumber", "page_number", "page_no"}
	remarkAliases      = []string{"remarks", "remark", "comment", "comments", "note", "notes", "interpretation"}
	statusFieldAliases = []string{"status", "flag", "abnormal_flag", "abnormalFlag"}
	dateAliases        = []string{
		"dateAndTime", "date_time", "dateTime", "date", "datetime", "collectedAt",
		"collected_at", "collection_date", "sampleDate", "sample_date",
	}
	resultsAliases = []string{"results", "observations", "values", "readings", "series"}

	// Arrays of records may hide under any of these keys.
	containerKeys = []string{
		"tests", "parameters", "items", "results", "rows", "data", "records",
		"blood_tests", "urine_tests", "lab_results", "labResults", "test_results",
		"testResults", "investigations", "panels", "categories", "groups", "report",
	}

	// Keys whose value is a list of tests inside a pre-grouped payload.
	groupTestKeys = []string{"tests", "items", "parameters", "results"}
	groupNameKeys = []string{"categoryName", "category_name", "category", "name", "group", "section", "title"}
)
