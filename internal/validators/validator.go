package validators

import (
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/go-playground/validator/v10"
)

// CustomValidator plugs go-playground/validator into echo.
type CustomValidator struct {
	validator *validator.Validate
}

func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate reports struct tag violations as invalid-input errors.
func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return errs.Wrap(errs.CodeInvalidInput, err, "")
	}
	return nil
}
