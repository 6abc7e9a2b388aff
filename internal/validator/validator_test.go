package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-service/internal/domain"
)

var purposes = []string{"研究全般", "糸島市子どもの居場所プロジェクト"}

func validInput() domain.FormInput {
	return domain.FormInput{
		Date:       time.Date(2025, time.April, 3, 0, 0, 0, 0, time.UTC),
		Name:       "九大 太郎",
		PostalCode: "8190395",
		Address1:   "福岡県福岡市西区元岡744",
		Email:      "taro@example.com",
		Purpose:    "研究全般",
		Condition:  domain.ConditionNone,
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("taro.kyudai+donation@example.co.jp"))
	assert.ErrorIs(t, ValidateEmail("  "), ErrEmptyEmail)
	assert.ErrorIs(t, ValidateEmail("taro@example"), ErrInvalidEmailFormat)
	assert.ErrorIs(t, ValidateEmail("taro example.com"), ErrInvalidEmailFormat)
}

func TestValidatePostalCode(t *testing.T) {
	assert.NoError(t, ValidatePostalCode("8190395"))
	assert.NoError(t, ValidatePostalCode("819-0395"))
	assert.ErrorIs(t, ValidatePostalCode("819039"), ErrInvalidPostalCode)
	assert.ErrorIs(t, ValidatePostalCode("81903955"), ErrInvalidPostalCode)
	assert.ErrorIs(t, ValidatePostalCode("８１９０３９５"), ErrInvalidPostalCode)
	assert.ErrorIs(t, ValidatePostalCode(""), ErrInvalidPostalCode)
}

func TestValidateCondition(t *testing.T) {
	assert.NoError(t, ValidateCondition(domain.ConditionNone, ""))
	assert.NoError(t, ValidateCondition(domain.ConditionPresent, "学生支援に限る"))
	assert.ErrorIs(t, ValidateCondition(domain.ConditionPresent, " "), ErrEmptyConditionDetail)
	assert.ErrorIs(t, ValidateCondition("maybe", ""), ErrUnknownCondition)
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(1))
	assert.ErrorIs(t, ValidateAmount(0), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(-1000), ErrInvalidAmount)
}

func TestValidateFormInput(t *testing.T) {
	require.NoError(t, ValidateFormInput(validInput(), purposes))

	tests := []struct {
		name      string
		mutate    func(*domain.FormInput)
		wantField string
		wantErr   error
	}{
		{"missing date", func(in *domain.FormInput) { in.Date = time.Time{} }, "date", ErrMissingDate},
		{"empty name", func(in *domain.FormInput) { in.Name = "" }, "name", ErrEmptyName},
		{"bad postal code", func(in *domain.FormInput) { in.PostalCode = "abc" }, "postal_code", ErrInvalidPostalCode},
		{"empty address", func(in *domain.FormInput) { in.Address1 = "  " }, "address1", ErrEmptyAddress},
		{"empty email", func(in *domain.FormInput) { in.Email = "" }, "email", ErrEmptyEmail},
		{"unknown purpose", func(in *domain.FormInput) { in.Purpose = "施設整備" }, "purpose", ErrUnknownPurpose},
		{"missing detail", func(in *domain.FormInput) { in.Condition = domain.ConditionPresent }, "condition_detail", ErrEmptyConditionDetail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := ValidateFormInput(in, purposes)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

func TestField(t *testing.T) {
	assert.NoError(t, Field("name", nil))
	err := Field("name", ErrEmptyName)
	assert.EqualError(t, err, "name: name is empty")
}
