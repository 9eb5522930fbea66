package middleware

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidators(t *testing.T) {
	require.NoError(t, RegisterValidators())
	require.NoError(t, RegisterValidators())

	type form struct {
		Phone string `binding:"phone"`
		Oid   string `binding:"merchant_oid"`
	}
	cases := []struct {
		in form
		ok bool
	}{
		{form{"+905551234567", "SP1700000000000AB12CD"}, true},
		{form{"5551234567", "abc123"}, true},
		{form{"555-123", "abc123"}, false},
		{form{"5551234567", "SP-1"}, false},
		{form{"5551234567", ""}, false},
	}
	for _, tc := range cases {
		err := binding.Validator.ValidateStruct(tc.in)
		if tc.ok {
			assert.NoError(t, err, "%+v", tc.in)
		} else {
			assert.Error(t, err, "%+v", tc.in)
		}
	}
}
