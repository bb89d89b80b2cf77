// Package validation は入力構造体のタグ検証を行い、結果をAPIErrorに変換する。
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/storefront/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct はvのvalidateタグを検証する。
// 最初に違反したフィールドをValidationErrorとして返す。
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("failed to validate %T: %w", v, err)
	}
	fe := fieldErrs[0]
	return model.NewValidationError(fieldName(fe.Field()), reason(fe))
}

// fieldName はGoのフィールド名をsnake_caseにする。
func fieldName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "必須です"
	case "email":
		return "メールアドレスの形式ではありません"
	case "max":
		return fmt.Sprintf("%s文字以内で入力してください", fe.Param())
	default:
		return fmt.Sprintf("%s の条件を満たしていません", fe.Tag())
	}
}
