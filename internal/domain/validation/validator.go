package validation

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/go-playground/validator/v10"
)

// Validator OCPI对象验证器
type Validator struct {
	validate *validator.Validate
}

// ValidationError 验证错误
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Error 实现error接口
func (e ValidationError) Error() string {
	return e.Message
}

// ValidationErrors 验证错误集合
type ValidationErrors []ValidationError

// Error 实现error接口
func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

// NewValidator 创建新的验证器
func NewValidator() *Validator {
	validate := validator.New()

	// 使用json字段名作为错误中的字段名
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	registerCustomValidations(validate)

	return &Validator{
		validate: validate,
	}
}

// ValidateStruct 验证结构体
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors ValidationErrors

	if validatorErrors, ok := err.(validator.ValidationErrors); ok {
		for _, validatorError := range validatorErrors {
			validationErrors = append(validationErrors, ValidationError{
				Field:   validatorError.Namespace(),
				Tag:     validatorError.Tag(),
				Value:   fmt.Sprintf("%v", validatorError.Value()),
				Message: getErrorMessage(validatorError),
			})
		}
		return validationErrors
	}

	return err
}

// ValidateCommand 验证指令载荷及回调地址
func (v *Validator) ValidateCommand(cmd *ocpi.Command) error {
	if cmd == nil {
		return ValidationError{Field: "command", Tag: "required", Message: "Command is required"}
	}
	if err := v.ValidateStruct(cmd.Payload()); err != nil {
		return err
	}
	if !isAbsoluteURL(cmd.ResponseURL()) {
		return ValidationError{
			Field:   "response_url",
			Tag:     "ocpi_abs_url",
			Value:   cmd.ResponseURL(),
			Message: "Field 'response_url' must be an absolute URL",
		}
	}
	return nil
}

// ValidateAsyncResult 验证异步结果
func (v *Validator) ValidateAsyncResult(result ocpi.AsyncResult) error {
	switch result.ResultType {
	case ocpi.ResultSuccess, ocpi.ResultFailed, ocpi.ResultNotSupported, ocpi.ResultRejected, ocpi.ResultTimeout:
	default:
		return ValidationError{
			Field:   "result_type",
			Tag:     "oneof",
			Value:   string(result.ResultType),
			Message: "Field 'result_type' must be one of SUCCESS FAILED NOT_SUPPORTED REJECTED TIMEOUT",
		}
	}
	for _, m := range result.Message {
		if err := v.ValidateStruct(m); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMessageSize 验证消息大小
func (v *Validator) ValidateMessageSize(data []byte, maxSize int) error {
	if len(data) > maxSize {
		return ValidationError{
			Field:   "body",
			Tag:     "max_size",
			Value:   fmt.Sprintf("%d bytes", len(data)),
			Message: fmt.Sprintf("Message size %d bytes exceeds maximum allowed size %d bytes", len(data), maxSize),
		}
	}
	return nil
}

// ValidateParty 验证 country_code + party_id，通过后返回规范化的参与方
func (v *Validator) ValidateParty(countryCode, partyID string) (ocpi.Party, error) {
	if _, ok := ocpi.TryParse[ocpi.CountryCode](countryCode); !ok {
		return ocpi.Party{}, ValidationError{
			Field:   "country_code",
			Tag:     "ocpi_country_code",
			Value:   countryCode,
			Message: "Field 'country_code' must be a 2 letter ISO 3166-1 alpha-2 code",
		}
	}
	party, ok := ocpi.ParseParty(countryCode, partyID)
	if !ok {
		return ocpi.Party{}, ValidationError{
			Field:   "party_id",
			Tag:     "ocpi_party_id",
			Value:   partyID,
			Message: "Field 'party_id' must be 3 alphanumeric characters",
		}
	}
	return party, nil
}

// ValidateVersion 验证协议版本，空值视为默认版本
func (v *Validator) ValidateVersion(version string) (ocpi.Version, error) {
	if version == "" {
		return ocpi.DefaultVersion, nil
	}
	parsed, ok := ocpi.ParseVersion(strings.TrimSpace(version))
	if !ok {
		return "", ValidationError{
			Field:   "version",
			Tag:     "ocpi_version",
			Value:   version,
			Message: "Unsupported version",
		}
	}
	return parsed, nil
}

// registerCustomValidations 注册自定义验证规则
func registerCustomValidations(validate *validator.Validate) {
	validate.RegisterValidation("ocpi_country_code", validateCountryCode)
	validate.RegisterValidation("ocpi_party_id", validatePartyID)
	validate.RegisterValidation("ocpi_cistring", validateCiString)
	validate.RegisterValidation("ocpi_abs_url", validateAbsoluteURL)
}

func validateCountryCode(fl validator.FieldLevel) bool {
	_, ok := ocpi.TryParse[ocpi.CountryCode](fl.Field().String())
	return ok
}

func validatePartyID(fl validator.FieldLevel) bool {
	_, ok := ocpi.TryParse[ocpi.PartyID](fl.Field().String())
	return ok
}

// validateCiString 可打印ASCII，长度由max标签约束
func validateCiString(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // 允许空值，required标签会处理必填验证
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x21 || value[i] > 0x7E {
			return false
		}
	}
	return true
}

func validateAbsoluteURL(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return isAbsoluteURL(value)
}

func isAbsoluteURL(value string) bool {
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}

// getErrorMessage 获取友好的错误消息
func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "min":
		return fmt.Sprintf("Field '%s' must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Field '%s' must not exceed %s", fe.Field(), fe.Param())
	case "len":
		return fmt.Sprintf("Field '%s' must be exactly %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of %s", fe.Field(), fe.Param())
	case "ocpi_country_code":
		return fmt.Sprintf("Field '%s' must be a 2 letter ISO 3166-1 alpha-2 code", fe.Field())
	case "ocpi_party_id":
		return fmt.Sprintf("Field '%s' must be 3 alphanumeric characters", fe.Field())
	case "ocpi_cistring":
		return fmt.Sprintf("Field '%s' must contain printable ASCII characters only", fe.Field())
	case "ocpi_abs_url":
		return fmt.Sprintf("Field '%s' must be an absolute URL", fe.Field())
	default:
		return fmt.Sprintf("Field '%s' failed validation for tag '%s'", fe.Field(), fe.Tag())
	}
}
