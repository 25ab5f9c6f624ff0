package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const MaxNoteLength = 500

var (
	ErrInvalidEmail           = errors.New("invalid email address")
	ErrInvalidCurrency        = errors.New("currency must be a 3 letter code")
	ErrInvalidInstitutionCode = errors.New("institution code must be 2-20 characters")
	ErrInvalidAccountNumber   = errors.New("account number must be 5-20 digits")
	ErrNoteTooLong            = errors.New("note must be at most 500 characters")

	currencyPattern      = regexp.MustCompile(`^[A-Z]{3}$`)
	accountNumberPattern = regexp.MustCompile(`^\d{5,20}$`)
)

// NormalizeEmail trims and lower-cases an address and checks that it parses.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !currencyPattern.MatchString(code) {
		return "", ErrInvalidCurrency
	}
	return code, nil
}

func NormalizeInstitutionCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if n := utf8.RuneCountInString(code); n < 2 || n > 20 {
		return "", ErrInvalidInstitutionCode
	}
	return code, nil
}

func NormalizeAccountNumber(number string) (string, error) {
	number = strings.TrimSpace(number)
	if !accountNumberPattern.MatchString(number) {
		return "", ErrInvalidAccountNumber
	}
	return number, nil
}

// NormalizeNote returns nil for blank notes.
func NormalizeNote(note string) (*string, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return nil, ErrNoteTooLong
	}
	return &note, nil
}

// PayoutReference is the provider-side reference for a withdrawal.
func PayoutReference(withdrawalID string) string {
	return PayoutReferencePrefix + withdrawalID
}

// WithdrawalIDFromReference extracts the withdrawal id from a payout reference.
func WithdrawalIDFromReference(ref string) (string, bool) {
	if !strings.HasPrefix(ref, PayoutReferencePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(ref, PayoutReferencePrefix)
	return id, id != ""
}
