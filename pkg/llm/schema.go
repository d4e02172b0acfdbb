package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Criterion is one scored dimension of an assessment.
type Criterion struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// AssessmentResult is the fixed shape every accepted model reply must match:
// exactly three criteria, each with an integer score between 1 and 5 and a
// textual justification.
type AssessmentResult struct {
	Completeness Criterion `json:"completeness"`
	Accuracy     Criterion `json:"accuracy"`
	Spag         Criterion `json:"spag"`
}

const assessmentSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["completeness", "accuracy", "spag"],
	"properties": {
		"completeness": {"$ref": "#/$defs/criterion"},
		"accuracy": {"$ref": "#/$defs/criterion"},
		"spag": {"$ref": "#/$defs/criterion"}
	},
	"$defs": {
		"criterion": {
			"type": "object",
			"required": ["score", "reasoning"],
			"properties": {
				"score": {"type": "integer", "minimum": 1, "maximum": 5},
				"reasoning": {"type": "string"}
			}
		}
	}
}`

var assessmentSchema = jsonschema.MustCompileString("assessment.json", assessmentSchemaJSON)

// SchemaValidationError reports every field-level violation found in a
// syntactically valid but structurally wrong model reply.
type SchemaValidationError struct {
	Problems []string
	cause    error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("model response failed schema validation: %s", strings.Join(e.Problems, "; "))
}

func (e *SchemaValidationError) Unwrap() error {
	return e.cause
}

// ValidateAssessment checks a parsed candidate value against the assessment
// schema and decodes it into a typed result.
func ValidateAssessment(candidate any) (AssessmentResult, error) {
	if err := assessmentSchema.Validate(candidate); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return AssessmentResult{}, &SchemaValidationError{Problems: collectViolations(ve), cause: ve}
		}
		return AssessmentResult{}, &SchemaValidationError{Problems: []string{err.Error()}, cause: err}
	}

	raw, err := json.Marshal(candidate)
	if err != nil {
		return AssessmentResult{}, &SchemaValidationError{Problems: []string{err.Error()}, cause: err}
	}

	var result AssessmentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return AssessmentResult{}, &SchemaValidationError{Problems: []string{err.Error()}, cause: err}
	}

	return result, nil
}

// collectViolations flattens the validation error tree into one entry per
// leaf violation, keyed by instance path.
func collectViolations(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		location := ve.InstanceLocation
		if location == "" {
			location = "/"
		}
		return []string{fmt.Sprintf("%s: %s", location, ve.Message)}
	}

	problems := make([]string, 0, len(ve.Causes))
	for _, cause := range ve.Causes {
		problems = append(problems, collectViolations(cause)...)
	}
	return problems
}
