package utils

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	validate          *validator.Validate
	snowflakeRegex    = regexp.MustCompile(`^[0-9]{15,21}$`)
	invalidEmojiChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

const (
	MaxEmoteNameLength = 100
	minEmojiNameLength = 2
	maxEmojiNameLength = 32
)

func init() {
	validate = validator.New()

	// Emote names are whatever follows '$' in a message, so they cannot
	// contain whitespace or another '$'.
	validate.RegisterValidation("emotename", func(fl validator.FieldLevel) bool {
		return ValidEmoteName(fl.Field().String())
	})

	validate.RegisterValidation("snowflake", func(fl validator.FieldLevel) bool {
		return snowflakeRegex.MatchString(fl.Field().String())
	})
}

// Validate validates a struct using the validator
func Validate(s any) error {
	return validate.Struct(s)
}

// ValidEmoteName reports whether name can be referenced as $name.
func ValidEmoteName(name string) bool {
	if name == "" || utf8.RuneCountInString(name) > MaxEmoteNameLength {
		return false
	}
	for _, r := range name {
		if r == '$' || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// EmojiName maps an emote name onto the character set the platform
// accepts for custom emoji: letters, digits and underscores, 2 to 32 long.
func EmojiName(name string) string {
	name = invalidEmojiChars.ReplaceAllString(name, "_")
	if len(name) > maxEmojiNameLength {
		name = name[:maxEmojiNameLength]
	}
	for len(name) < minEmojiNameLength {
		name += "_"
	}
	return name
}

// FormatValidationErrors formats validation errors for API response
func FormatValidationErrors(err error) map[string]string {
	errors := make(map[string]string)

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			field := strings.ToLower(e.Field())
			switch e.Tag() {
			case "required":
				errors[field] = "This field is required"
			case "url":
				errors[field] = "Invalid URL"
			case "max":
				errors[field] = "Value is too long"
			case "emotename":
				errors[field] = "Emote name must be 1-100 characters without spaces or '$'"
			case "snowflake":
				errors[field] = "Invalid Discord ID"
			default:
				errors[field] = "Invalid value"
			}
		}
	}

	return errors
}

// SanitizeString removes potentially dangerous characters from a string
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	return s
}

// TruncateRunes truncates s to at most maxLen runes.
func TruncateRunes(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}
