package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

func testCohort() *types.CohortReference {
	fields := []types.CohortField{
		{Code: "diagnosis_A", Name: "Diagnosis A", Type: types.FieldTypeBool, Values: []float64{1, 0, 1, 0, 1, 0}},
		{Code: "diagnosis_B", Name: "Diagnosis B", Type: types.FieldTypeBool, Values: []float64{0, 0, 1, 1, 0, 0}},
		{Code: "age", Name: "Age", Type: types.FieldTypeReal, Values: []float64{62, 45, 71, 38, 55, 49}},
		{Code: "bmi", Name: "BMI", Type: types.FieldTypeReal, Values: []float64{24.1, 31.5, 22.8, 27.0, 29.3, 25.5}},
	}
	return types.NewCohortReference("ukb", 6, 0, fields, nil, nil)
}

func TestCompileAndEvaluate(t *testing.T) {
	ref := testCohort()

	def, err := Compile("diagnosis_A AND age > 50", ref)
	require.NoError(t, err)
	assert.Equal(t, TypeBool, def.ResultType)

	vec, err := Evaluate(def, ref)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 1, 0, 1, 0}, vec.Values)
	assert.InDelta(t, 0.5, vec.Mean, 1e-12)
	assert.InDelta(t, 0.5, vec.Std, 1e-12)
}

func TestCompileArithmetic(t *testing.T) {
	ref := testCohort()

	def, err := Compile("bmi * 2 + age / 10", ref)
	require.NoError(t, err)
	assert.Equal(t, TypeReal, def.ResultType)

	vec, err := Evaluate(def, ref)
	require.NoError(t, err)
	assert.InDelta(t, 24.1*2+6.2, vec.Values[0], 1e-12)
	assert.InDelta(t, 31.5*2+4.5, vec.Values[1], 1e-12)
}

func TestLeafDefinitionDoesNotAliasColumn(t *testing.T) {
	ref := testCohort()

	def, err := Compile("age", ref)
	require.NoError(t, err)
	vec, err := Evaluate(def, ref)
	require.NoError(t, err)

	vec.Values[0] = -1
	assert.Equal(t, 62.0, ref.Fields[2].Values[0])
}

func TestParseErrors(t *testing.T) {
	ref := testCohort()
	for _, raw := range []string{
		"",
		"age >",
		"(age > 50",
		"age ! 50",
		"50 60",
	} {
		_, err := Compile(raw, ref)
		require.Error(t, err, "input %q", raw)
		assert.Equal(t, apperr.KindParseError, apperr.KindOf(err), "input %q", raw)
	}
}

func TestUnknownField(t *testing.T) {
	ref := testCohort()
	_, err := Compile("diagnosis_Z AND age > 50", ref)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnknownField, apperr.KindOf(err))
}

func TestTypeMismatch(t *testing.T) {
	ref := testCohort()
	for _, raw := range []string{
		"age AND diagnosis_A",
		"NOT bmi",
		"diagnosis_A OR age",
	} {
		_, err := Compile(raw, ref)
		require.Error(t, err, "input %q", raw)
		assert.Equal(t, apperr.KindTypeMismatch, apperr.KindOf(err), "input %q", raw)
	}
}

func TestDegeneratePhenotype(t *testing.T) {
	ref := testCohort()

	def, err := Compile("diagnosis_A OR NOT diagnosis_A", ref)
	require.NoError(t, err)
	_, err = Evaluate(def, ref)
	require.Error(t, err)
	assert.Equal(t, apperr.KindDegeneratePhenotype, apperr.KindOf(err))

	def, err = Compile("age * 0", ref)
	require.NoError(t, err)
	_, err = Evaluate(def, ref)
	require.Error(t, err)
	assert.Equal(t, apperr.KindDegeneratePhenotype, apperr.KindOf(err))
}

func TestDivisionByZeroFailsNumerically(t *testing.T) {
	ref := testCohort()

	def, err := Compile("age / diagnosis_A", ref)
	require.NoError(t, err)
	_, err = Evaluate(def, ref)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNumericInstability, apperr.KindOf(err))
}

func TestFingerprintCanonicalization(t *testing.T) {
	ref := testCohort()

	same := []string{
		"diagnosis_A AND age > 50",
		"age > 50 AND diagnosis_A",
		"(age > 50) AND diagnosis_A",
	}
	var first string
	for i, raw := range same {
		def, err := Compile(raw, ref)
		require.NoError(t, err)
		fp := Fingerprint("ukb", def.Root)
		if i == 0 {
			first = fp
			continue
		}
		assert.Equal(t, first, fp, "input %q", raw)
	}

	def, err := Compile("diagnosis_A AND (diagnosis_B AND age > 50)", ref)
	require.NoError(t, err)
	reassoc, err := Compile("(age > 50 AND diagnosis_A) AND diagnosis_B", ref)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("ukb", def.Root), Fingerprint("ukb", reassoc.Root))

	other, err := Compile("diagnosis_B AND age > 50", ref)
	require.NoError(t, err)
	assert.NotEqual(t, first, Fingerprint("ukb", other.Root))

	// Same expression, different cohort: different key.
	dd, err := Compile("diagnosis_A AND age > 50", ref)
	require.NoError(t, err)
	assert.NotEqual(t, first, Fingerprint("other_cohort", dd.Root))
}

func TestNonCommutativeOrderPreserved(t *testing.T) {
	ref := testCohort()

	a, err := Compile("age - bmi", ref)
	require.NoError(t, err)
	b, err := Compile("bmi - age", ref)
	require.NoError(t, err)
	assert.NotEqual(t, Fingerprint("ukb", a.Root), Fingerprint("ukb", b.Root))
}
