package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email    string `json:"email" validate:"required,email"`
	Slug     string `json:"slug" validate:"omitempty,slug"`
	Currency string `json:"currency" validate:"omitempty,currency"`
	Rating   int    `json:"rating" validate:"min=1,max=5"`
}

func TestValidate(t *testing.T) {
	v := New()
	require.NoError(t, v.Validate(sample{Email: "a@example.com", Slug: "media-maraton", Currency: "eur", Rating: 3}))

	cases := []struct {
		in    sample
		field string
	}{
		{sample{Rating: 3}, "email"},
		{sample{Email: "nope", Rating: 3}, "email"},
		{sample{Email: "a@example.com", Slug: "Media Maraton", Rating: 3}, "slug"},
		{sample{Email: "a@example.com", Currency: "EUR", Rating: 3}, "currency"},
		{sample{Email: "a@example.com", Rating: 9}, "rating"},
	}
	for _, tc := range cases {
		err := v.Validate(tc.in)
		var fe *FieldError
		require.True(t, errors.As(err, &fe), tc.field)
		assert.Equal(t, tc.field, fe.Field)
		assert.ErrorIs(t, err, ErrInvalid)
	}
}
