package validator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPhoneValidator(t *testing.T) {
	validator := NewPhoneValidator()
	assert.NotNil(t, validator)
}

func TestValidate_ValidNumbers(t *testing.T) {
	validator := NewPhoneValidator()

	validNumbers := []struct {
		input    string
		expected string
		name     string
	}{
		{"+254712345678", "+254712345678", "Kenya E.164"},
		{"+255 754 123 456", "+255754123456", "Tanzania with spaces"},
		{"0712-345-678", "0712345678", "Local with dashes"},
		{"(0712) 345 678", "0712345678", "With parentheses"},
		{"0044.20.7946.0958", "+442079460958", "00 prefix with dots"},
		{"1234567", "1234567", "Minimum length"},
		{"+123456789012345", "+123456789012345", "Maximum length"},
	}

	for _, tc := range validNumbers {
		t.Run(tc.name, func(t *testing.T) {
			sanitized, err := validator.Validate(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sanitized)
		})
	}
}

func TestValidate_InvalidNumbers(t *testing.T) {
	validator := NewPhoneValidator()

	invalidNumbers := []struct {
		input       string
		expectedErr error
		name        string
	}{
		{"", ErrEmptyPhone, "Empty string"},
		{"   ", ErrEmptyPhone, "Whitespace only"},
		{"123456", ErrInvalidLength, "Too short"},
		{"+1234567890123456", ErrInvalidLength, "Too long"},
		{"07123a5678", ErrInvalidFormat, "Contains letters"},
		{"07+12345678", ErrInvalidFormat, "Plus in the middle"},
		{"+", ErrInvalidFormat, "Plus only"},
	}

	for _, tc := range invalidNumbers {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.Validate(tc.input)
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

func TestSanitize(t *testing.T) {
	validator := NewPhoneValidator()

	assert.Equal(t, "+254712345678", validator.Sanitize(" +254 (712) 345-678 "))
	assert.Equal(t, "+442079460958", validator.Sanitize("0044 20 7946 0958"))
	assert.Equal(t, "00", validator.Sanitize("00"))
}

func TestIsValid(t *testing.T) {
	validator := NewPhoneValidator()

	assert.True(t, validator.IsValid("+254712345678"))
	assert.False(t, validator.IsValid("call me"))
}

func TestConcurrentValidation(t *testing.T) {
	validator := NewPhoneValidator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := validator.Validate("+254712345678")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
