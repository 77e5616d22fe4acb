package ordercode

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxAttempts: сколько кандидатов проверяется до отказа.
const MaxAttempts = 25

const (
	// VariantDigits: R + 6 цифр, например R042917.
	VariantDigits = "digits"
	// VariantAlphanumeric: R + 8 символов из 0-9A-Za-z.
	VariantAlphanumeric = "alphanumeric"
)

const (
	digitsAlphabet       = "0123456789"
	alphanumericAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Config описывает форму кода заказа.
type Config struct {
	Prefix      string
	Alphabet    string
	Length      int
	MaxAttempts int
}

// DigitsConfig возвращает конфигурацию по умолчанию.
func DigitsConfig() Config {
	return Config{Prefix: "R", Alphabet: digitsAlphabet, Length: 6, MaxAttempts: MaxAttempts}
}

// AlphanumericConfig возвращает конфигурацию с буквенно-цифровым алфавитом.
func AlphanumericConfig() Config {
	return Config{Prefix: "R", Alphabet: alphanumericAlphabet, Length: 8, MaxAttempts: MaxAttempts}
}

// ConfigForVariant возвращает конфигурацию по имени варианта.
func ConfigForVariant(variant string) (Config, error) {
	switch strings.ToLower(strings.TrimSpace(variant)) {
	case "", VariantDigits:
		return DigitsConfig(), nil
	case VariantAlphanumeric:
		return AlphanumericConfig(), nil
	default:
		return Config{}, fmt.Errorf("unknown order code variant %q", variant)
	}
}

// Validate проверяет конфигурацию.
func (c Config) Validate() error {
	if c.Alphabet == "" {
		return errors.New("order code alphabet is required")
	}
	if !utf8.ValidString(c.Alphabet) {
		return errors.New("order code alphabet must be valid utf-8")
	}
	seen := make(map[rune]struct{}, len(c.Alphabet))
	for _, r := range c.Alphabet {
		if _, ok := seen[r]; ok {
			return fmt.Errorf("order code alphabet has duplicate symbol %q", r)
		}
		seen[r] = struct{}{}
	}
	if c.Length <= 0 {
		return errors.New("order code length must be positive")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("order code max attempts must be positive")
	}
	return nil
}

// Matches сообщает, имеет ли code форму, которую выдаёт генератор с этой конфигурацией.
func (c Config) Matches(code string) bool {
	if !strings.HasPrefix(code, c.Prefix) {
		return false
	}
	token := strings.TrimPrefix(code, c.Prefix)
	if utf8.RuneCountInString(token) != c.Length {
		return false
	}
	for _, r := range token {
		if !strings.ContainsRune(c.Alphabet, r) {
			return false
		}
	}
	return true
}
