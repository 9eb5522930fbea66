package middleware

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	phonePattern       = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	merchantOidPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)
	registerOnce       sync.Once
	registerErr        error
)

// RegisterValidators 向 gin 的校验器注册 phone / merchant_oid 规则
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if registerErr = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		}); registerErr != nil {
			return
		}
		registerErr = v.RegisterValidation("merchant_oid", func(fl validator.FieldLevel) bool {
			return merchantOidPattern.MatchString(fl.Field().String())
		})
	})
	return registerErr
}
