package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockTestingT captures assertion failures instead of failing the test.
type mockTestingT struct {
	errorCalled  bool
	errorMessage string
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.errorCalled = true
	m.errorMessage = fmt.Sprintf(format, args...)
}

func TestTextAsserterPassesOnMatch(t *testing.T) {
	mockT := &mockTestingT{}
	ta := NewTextAsserterWithInterface(mockT)

	ta.Assert("NAME     ADDRESS\nScale A  aa:bb\n", "NAME     ADDRESS\nScale A  aa:bb")

	assert.False(t, mockT.errorCalled,
		"MUST not fail when the texts match after normalization: %s", mockT.errorMessage)
}

func TestTextAsserterIgnoresTrailingWhitespaceByDefault(t *testing.T) {
	// tabwriter pads cells with trailing spaces; the default options
	// absorb that so table tests can use clean literals.
	mockT := &mockTestingT{}
	ta := NewTextAsserterWithInterface(mockT)

	ta.Assert("row one   \nrow two\t\n", "row one\nrow two")

	assert.False(t, mockT.errorCalled,
		"MUST not fail on trailing whitespace: %s", mockT.errorMessage)
}

func TestTextAsserterReportsUnifiedDiff(t *testing.T) {
	mockT := &mockTestingT{}
	ta := NewTextAsserterWithInterface(mockT)

	ta.Assert("weight: 71.45 kg", "weight: 71.50 kg")

	assert.True(t, mockT.errorCalled, "a mismatch MUST fail the assertion")
	assert.Contains(t, mockT.errorMessage, "Text assertion failed")
	assert.Contains(t, mockT.errorMessage, "-weight: 71.50 kg")
	assert.Contains(t, mockT.errorMessage, "+weight: 71.45 kg")
}

func TestTextAsserterStrictWhitespace(t *testing.T) {
	mockT := &mockTestingT{}
	ta := NewTextAsserterWithInterface(mockT,
		WithIgnoreTrailingWhitespace(false),
		WithTrimSpace(false),
	)

	ta.Assert("value ", "value")

	assert.True(t, mockT.errorCalled, "strict mode MUST see trailing whitespace")
}

func TestTextAsserterOptions(t *testing.T) {
	t.Run("IgnoreLeadingWhitespace", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterWithInterface(mockT, WithIgnoreLeadingWhitespace(true))

		ta.Assert("  hello\n    world", "hello\nworld")

		assert.False(t, mockT.errorCalled, "indentation MUST be ignored: %s", mockT.errorMessage)
	})

	t.Run("IgnoreEmptyLines", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterWithInterface(mockT, WithIgnoreEmptyLines(true))

		ta.Assert("hello\n\n\nworld\n\n", "hello\nworld")

		assert.False(t, mockT.errorCalled, "blank lines MUST be ignored: %s", mockT.errorMessage)
	})

	t.Run("AllNormalizationsCombined", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterWithInterface(mockT,
			WithIgnoreLeadingWhitespace(true),
			WithIgnoreTrailingWhitespace(true),
			WithIgnoreEmptyLines(true),
			WithTrimSpace(true),
		)

		actual := `
		  hello world

		  goodbye universe

		`
		expected := "hello world\ngoodbye universe"

		ta.Assert(actual, expected)

		assert.False(t, mockT.errorCalled, "full normalization MUST equalize the texts: %s", mockT.errorMessage)
	})
}

func TestTextAsserterColorizedDiffMarksWhitespace(t *testing.T) {
	mockT := &mockTestingT{}
	ta := NewTextAsserterWithInterface(mockT,
		WithColors(true),
		WithIgnoreTrailingWhitespace(false),
		WithTrimSpace(false),
	)

	ta.Assert("a  b ", "a b")

	assert.True(t, mockT.errorCalled)
	assert.True(t, strings.Contains(mockT.errorMessage, "·"),
		"colored diff MUST make spaces visible, got: %s", mockT.errorMessage)
}

func TestTextAsserterAgainstRealT(t *testing.T) {
	// GOAL: the *testing.T constructor wires through to the same asserter.
	ta := NewTextAsserter(t)
	ta.Assert("same", "same")
}
