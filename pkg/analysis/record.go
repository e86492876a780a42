package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/tracefang/pkg/metrics"
)

// ErrSchema is returned when persisted analysis data violates the schema.
// Schema violations are fatal: the load is aborted.
var ErrSchema = errors.New("analysis schema violation")

// Record is the persisted form of one analysis object. The base fields are
// always present; variant-specific and predicate fields are pointers so the
// JSON carries exactly the fields the variant owns.
type Record struct {
	Type              int     `json:"type"`
	File              string  `json:"file"`
	Line              int     `json:"line"`
	Passed            int     `json:"passed"`
	PassedObserved    int     `json:"passed_observed"`
	PassedNotObserved int     `json:"passed_not_observed"`
	Failed            int     `json:"failed"`
	FailedObserved    int     `json:"failed_observed"`
	FailedNotObserved int     `json:"failed_not_observed"`
	Weight            *float64 `json:"weight,omitempty"`

	ThenID         *int    `json:"then_id,omitempty"`
	Then           *bool   `json:"then,omitempty"`
	Var            *string `json:"var,omitempty"`
	Var1           *string `json:"var1,omitempty"`
	Var2           *string `json:"var2,omitempty"`
	Op             *string `json:"op,omitempty"`
	Condition      *string `json:"condition,omitempty"`
	Negate         *bool   `json:"negate,omitempty"`
	Function       *string `json:"function,omitempty"`
	Value          *string `json:"value,omitempty"`
	Bytes          *bool   `json:"bytes,omitempty"`
	UseFile        *string `json:"use_file,omitempty"`
	UseLine        *int    `json:"use_line,omitempty"`
	EvaluateHit    *string `json:"evaluate_hit,omitempty"`
	EvaluateLength *string `json:"evaluate_length,omitempty"`

	TrueRelevant    *int     `json:"true_relevant,omitempty"`
	FalseRelevant   *int     `json:"false_relevant,omitempty"`
	TrueIrrelevant  *int     `json:"true_irrelevant,omitempty"`
	FalseIrrelevant *int     `json:"false_irrelevant,omitempty"`
	FailTrue        *float64 `json:"fail_true,omitempty"`
	FailFalse       *float64 `json:"fail_false,omitempty"`
	Context         *float64 `json:"context,omitempty"`
	IncreaseTrue    *float64 `json:"increase_true,omitempty"`
	IncreaseFalse   *float64 `json:"increase_false,omitempty"`
}

// weightRecorder lets newRecord include the weight only when one was
// recorded for the object.
type weightRecorder interface {
	weightRecorded() bool
}

func (b *base) weightRecorded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.weights) > 0
}

// newRecord builds the base record of an object and applies the variant's
// fill function.
func newRecord(obj Object, fill func(*Record)) Record {
	counts := obj.Counts()

	r := Record{
		Type:              int(obj.Type()),
		File:              obj.File(),
		Line:              obj.Line(),
		Passed:            counts.Passed,
		PassedObserved:    counts.PassedObserved,
		PassedNotObserved: counts.PassedNotObserved,
		Failed:            counts.Failed,
		FailedObserved:    counts.FailedObserved,
		FailedNotObserved: counts.FailedNotObserved,
	}

	if recorder, ok := obj.(weightRecorder); ok && recorder.weightRecorded() {
		w := obj.Weight()
		r.Weight = &w
	}

	if fill != nil {
		fill(&r)
	}

	return r
}

// Serialize renders the objects as the persisted JSON array, ordered by
// object identity for stable output.
func Serialize(objects []Object) ([]byte, error) {
	sorted := make([]Object, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	records := make([]Record, 0, len(sorted))
	for _, obj := range sorted {
		records = append(records, obj.Record())
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis: %w", err)
	}

	return data, nil
}

// recordSchema validates the shape every persisted record must satisfy
// before variant-specific checks run.
const recordSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": [
      "type", "file", "line",
      "passed", "passed_observed", "passed_not_observed",
      "failed", "failed_observed", "failed_not_observed"
    ],
    "properties": {
      "type": {"type": "integer"},
      "file": {"type": "string"},
      "line": {"type": "integer"},
      "passed": {"type": "integer"},
      "passed_observed": {"type": "integer"},
      "passed_not_observed": {"type": "integer"},
      "failed": {"type": "integer"},
      "failed_observed": {"type": "integer"},
      "failed_not_observed": {"type": "integer"},
      "weight": {"type": "number"}
    }
  }
}`

// Deserialize parses a persisted JSON array back into analysis objects.
// The data is validated against the record schema first; any violation —
// including missing variant fields — aborts the load.
func Deserialize(data []byte) ([]Object, error) {
	result, validateErr := gojsonschema.Validate(
		gojsonschema.NewStringLoader(recordSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if validateErr != nil {
		return nil, fmt.Errorf("validate analysis: %w", validateErr)
	}

	if !result.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrSchema, result.Errors())
	}

	var records []Record

	unmarshalErr := json.Unmarshal(data, &records)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", unmarshalErr)
	}

	objects := make([]Object, 0, len(records))

	for _, r := range records {
		obj, buildErr := FromRecord(r)
		if buildErr != nil {
			return nil, buildErr
		}

		objects = append(objects, obj)
	}

	return objects, nil
}

// FromRecord reconstructs one analysis object from its persisted form.
func FromRecord(r Record) (Object, error) {
	obj, err := buildVariant(r)
	if err != nil {
		return nil, err
	}

	installCounts(obj, r)

	return obj, nil
}

// statsInstaller lets deserialization restore predicate statistics.
type statsInstaller interface {
	setStats(predicateStats)
}

// countsInstaller lets deserialization restore spectrum tallies.
type countsInstaller interface {
	setCounts(metrics.Counts)
	AdjustWeight(runID int, w float64)
}

func installCounts(obj Object, r Record) {
	installer, ok := obj.(countsInstaller)
	if !ok {
		return
	}

	installer.setCounts(metrics.Counts{
		Passed:            r.Passed,
		PassedObserved:    r.PassedObserved,
		PassedNotObserved: r.PassedNotObserved,
		Failed:            r.Failed,
		FailedObserved:    r.FailedObserved,
		FailedNotObserved: r.FailedNotObserved,
	})

	if r.Weight != nil {
		installer.AdjustWeight(0, *r.Weight)
	}
}

func buildVariant(r Record) (Object, error) {
	switch Type(r.Type) {
	case TypeLine:
		return NewLine(r.File, r.Line), nil
	case TypeFunction:
		function, err := requireString(r.Function, "function")
		if err != nil {
			return nil, err
		}

		return NewFunction(r.File, r.Line, function, 0), nil
	case TypeDefUse:
		return buildDefUse(r)
	case TypeLoop:
		return buildLoop(r)
	case TypeLength:
		return buildLength(r)
	case TypeBranch:
		return buildBranch(r)
	case TypeCondition:
		return buildCondition(r)
	case TypeScalarPair:
		return buildScalarPair(r)
	case TypeVariable:
		return buildVariable(r)
	case TypeReturn:
		return buildReturn(r)
	case TypeNone, TypeEmptyString, TypeEmptyBytes:
		return buildConstantComp(r)
	case TypeAsciiString, TypeDigitString, TypeSpecialString:
		return buildStringPredicate(r)
	case TypeFunctionError:
		return buildFunctionError(r)
	default:
		return nil, fmt.Errorf("%w: type tag %d", ErrUnknownAnalysisType, r.Type)
	}
}

func buildDefUse(r Record) (Object, error) {
	useFile, err := requireString(r.UseFile, "use_file")
	if err != nil {
		return nil, err
	}

	useLine, err := requireInt(r.UseLine, "use_line")
	if err != nil {
		return nil, err
	}

	varName, err := requireString(r.Var, "var")
	if err != nil {
		return nil, err
	}

	return NewDefUse(r.File, r.Line, useFile, useLine, varName), nil
}

func buildLoop(r Record) (Object, error) {
	name, err := requireString(r.EvaluateHit, "evaluate_hit")
	if err != nil {
		return nil, err
	}

	class, err := parseHitName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	return NewLoop(r.File, r.Line, 0, class), nil
}

func buildLength(r Record) (Object, error) {
	varName, err := requireString(r.Var, "var")
	if err != nil {
		return nil, err
	}

	name, err := requireString(r.EvaluateLength, "evaluate_length")
	if err != nil {
		return nil, err
	}

	class, err := parseHitName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	return NewLength(r.File, r.Line, varName, class), nil
}

func buildBranch(r Record) (Object, error) {
	thenID, err := requireInt(r.ThenID, "then_id")
	if err != nil {
		return nil, err
	}

	then, err := requireBool(r.Then, "then")
	if err != nil {
		return nil, err
	}

	obj := NewBranch(r.File, r.Line, thenID, then)

	return obj, installStats(obj, r)
}

func buildCondition(r Record) (Object, error) {
	condition, err := requireString(r.Condition, "condition")
	if err != nil {
		return nil, err
	}

	negate, err := requireBool(r.Negate, "negate")
	if err != nil {
		return nil, err
	}

	obj := NewCondition(r.File, r.Line, condition, negate)

	return obj, installStats(obj, r)
}

func buildScalarPair(r Record) (Object, error) {
	var1, err := requireString(r.Var1, "var1")
	if err != nil {
		return nil, err
	}

	var2, err := requireString(r.Var2, "var2")
	if err != nil {
		return nil, err
	}

	op, err := requireComp(r.Op)
	if err != nil {
		return nil, err
	}

	obj := NewScalarPair(r.File, r.Line, var1, var2, op, groupNum)

	return obj, installStats(obj, r)
}

func buildVariable(r Record) (Object, error) {
	varName, err := requireString(r.Var, "var")
	if err != nil {
		return nil, err
	}

	op, err := requireComp(r.Op)
	if err != nil {
		return nil, err
	}

	obj := NewVariablePredicate(r.File, r.Line, varName, op)

	return obj, installStats(obj, r)
}

func buildReturn(r Record) (Object, error) {
	function, err := requireString(r.Function, "function")
	if err != nil {
		return nil, err
	}

	op, err := requireComp(r.Op)
	if err != nil {
		return nil, err
	}

	value, err := requireString(r.Value, "value")
	if err != nil {
		return nil, err
	}

	isBytes, err := requireBool(r.Bytes, "bytes")
	if err != nil {
		return nil, err
	}

	group := groupNum
	if isBytes {
		group = tagBytes
	}

	obj := NewReturnPredicate(r.File, r.Line, function, op, value, isBytes, group)

	return obj, installStats(obj, r)
}

func buildConstantComp(r Record) (Object, error) {
	varName, err := requireString(r.Var, "var")
	if err != nil {
		return nil, err
	}

	op, err := requireComp(r.Op)
	if err != nil {
		return nil, err
	}

	var obj Object

	switch Type(r.Type) {
	case TypeNone:
		obj = NewNonePredicate(r.File, r.Line, varName, op)
	case TypeEmptyString:
		obj = NewEmptyStringPredicate(r.File, r.Line, varName, op)
	default:
		obj = NewEmptyBytesPredicate(r.File, r.Line, varName, op)
	}

	return obj, installStats(obj, r)
}

func buildStringPredicate(r Record) (Object, error) {
	varName, err := requireString(r.Var, "var")
	if err != nil {
		return nil, err
	}

	var obj Object

	switch Type(r.Type) {
	case TypeAsciiString:
		obj = NewIsAsciiPredicate(r.File, r.Line, varName)
	case TypeDigitString:
		obj = NewContainsDigitPredicate(r.File, r.Line, varName)
	default:
		obj = NewContainsSpecialPredicate(r.File, r.Line, varName)
	}

	return obj, installStats(obj, r)
}

func buildFunctionError(r Record) (Object, error) {
	function, err := requireString(r.Function, "function")
	if err != nil {
		return nil, err
	}

	obj := NewFunctionErrorPredicate(r.File, r.Line, function, 0)

	return obj, installStats(obj, r)
}

// installStats restores the predicate statistics of a record; every
// predicate field is required on predicate variants.
func installStats(obj Object, r Record) error {
	installer, ok := obj.(statsInstaller)
	if !ok {
		return nil
	}

	trueRelevant, err := requireInt(r.TrueRelevant, "true_relevant")
	if err != nil {
		return err
	}

	falseRelevant, err := requireInt(r.FalseRelevant, "false_relevant")
	if err != nil {
		return err
	}

	trueIrrelevant, err := requireInt(r.TrueIrrelevant, "true_irrelevant")
	if err != nil {
		return err
	}

	falseIrrelevant, err := requireInt(r.FalseIrrelevant, "false_irrelevant")
	if err != nil {
		return err
	}

	failTrue, err := requireFloat(r.FailTrue, "fail_true")
	if err != nil {
		return err
	}

	failFalse, err := requireFloat(r.FailFalse, "fail_false")
	if err != nil {
		return err
	}

	context, err := requireFloat(r.Context, "context")
	if err != nil {
		return err
	}

	increaseTrue, err := requireFloat(r.IncreaseTrue, "increase_true")
	if err != nil {
		return err
	}

	increaseFalse, err := requireFloat(r.IncreaseFalse, "increase_false")
	if err != nil {
		return err
	}

	installer.setStats(predicateStats{
		trueRelevant:    trueRelevant,
		falseRelevant:   falseRelevant,
		trueIrrelevant:  trueIrrelevant,
		falseIrrelevant: falseIrrelevant,
		failTrue:        failTrue,
		failFalse:       failFalse,
		context:         context,
		increaseTrue:    increaseTrue,
		increaseFalse:   increaseFalse,
	})

	return nil
}

func requireString(field *string, name string) (string, error) {
	if field == nil {
		return "", fmt.Errorf("%w: missing %s", ErrSchema, name)
	}

	return *field, nil
}

func requireInt(field *int, name string) (int, error) {
	if field == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrSchema, name)
	}

	return *field, nil
}

func requireBool(field *bool, name string) (bool, error) {
	if field == nil {
		return false, fmt.Errorf("%w: missing %s", ErrSchema, name)
	}

	return *field, nil
}

func requireFloat(field *float64, name string) (float64, error) {
	if field == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrSchema, name)
	}

	return *field, nil
}

func requireComp(field *string) (Comp, error) {
	op, err := requireString(field, "op")
	if err != nil {
		return "", err
	}

	comp, parseErr := ParseComp(op)
	if parseErr != nil {
		return "", fmt.Errorf("%w: %v", ErrSchema, parseErr)
	}

	return comp, nil
}
