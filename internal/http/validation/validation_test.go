package validation

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
)

type line struct {
	Name string `json:"name" binding:"required"`
}

type address struct {
	Postcode string `json:"postcode" binding:"required,max=8"`
}

type form struct {
	Email   string  `json:"email" binding:"required,email"`
	Lines   []line  `json:"lines" binding:"required,min=1,dive"`
	Address address `json:"delivery_address"`
	Country string  `json:"country" binding:"len=2"`
}

func TestFromBindErrorUsesJSONPaths(t *testing.T) {
	in := form{
		Email:   "not-an-email",
		Lines:   []line{{Name: "ok"}, {}},
		Address: address{Postcode: "far too long postcode"},
		Country: "GBR",
	}
	err := binding.Validator.ValidateStruct(&in)
	assert.Error(t, err)

	fields := FromBindError(err, &in)
	assert.Equal(t, FieldErrors{
		"email":                     "Must be a valid email address.",
		"lines[1].name":             "This field is required.",
		"delivery_address.postcode": "Must be at most 8.",
		"country":                   "Must be exactly 2 long.",
	}, fields)
}

func TestFromBindErrorDecodeFailures(t *testing.T) {
	var dst form

	err := json.Unmarshal([]byte(`{"email": 5}`), &dst)
	assert.Equal(t, FieldErrors{"email": "Has the wrong type."}, FromBindError(err, &dst))

	err = json.Unmarshal([]byte(`{"email" "x"}`), &dst)
	assert.Equal(t, FieldErrors{"_": "Request body is not valid JSON."}, FromBindError(err, &dst))

	assert.Equal(t, FieldErrors{"_": "Request body is invalid."}, FromBindError(io.EOF, &dst))
}
