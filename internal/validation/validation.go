package validation

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// base58 without 0, O, I, l; Solana addresses are 32-44 characters
var walletPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

var invitePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`)

func init() {
	validate = validator.New()
	registerCustomValidations()
}

// ValidateStruct validates a struct using validation tags
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// IsValidWallet checks if a string looks like a Solana wallet address
func IsValidWallet(wallet string) bool {
	return walletPattern.MatchString(wallet)
}

// IsValidInviteCode checks a 6-character invite code
func IsValidInviteCode(code string) bool {
	return invitePattern.MatchString(code)
}

func registerCustomValidations() {
	validate.RegisterValidation("wallet", func(fl validator.FieldLevel) bool {
		return IsValidWallet(fl.Field().String())
	})

	validate.RegisterValidation("invite_code", func(fl validator.FieldLevel) bool {
		return IsValidInviteCode(fl.Field().String())
	})
}
