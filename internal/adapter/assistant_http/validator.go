package assistant_http

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// requestValidator adapts validator/v10 to echo.
type requestValidator struct {
	validate *validator.Validate
}

// NewValidator returns an echo.Validator reporting JSON field names.
func NewValidator() echo.Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "param"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
	return &requestValidator{validate: v}
}

func (r *requestValidator) Validate(i any) error {
	return r.validate.Struct(i)
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

type sessionParam struct {
	ID string `param:"id" validate:"required,uuid"`
}

type identityParam struct {
	Identity string `param:"identity" validate:"required,max=256"`
}

// bindAndValidate binds the request into req and validates it.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}
