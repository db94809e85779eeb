package domain

import (
	"net/mail"
	"strings"
	"unicode"
)

// NormalizeCPF keeps only the digits of a CPF.
func NormalizeCPF(raw string) string {
	return digitsOnly(raw)
}

// ValidCPF checks length, rejects repeated digits and verifies both check
// digits.
func ValidCPF(raw string) bool {
	cpf := NormalizeCPF(raw)
	if len(cpf) != 11 {
		return false
	}
	if strings.Count(cpf, cpf[:1]) == len(cpf) {
		return false
	}

	digit := func(n int) int {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(cpf[i]-'0') * (n + 1 - i)
		}
		rest := (sum * 10) % 11
		if rest == 10 {
			rest = 0
		}
		return rest
	}

	return digit(9) == int(cpf[9]-'0') && digit(10) == int(cpf[10]-'0')
}

// NormalizePhone strips formatting. Mobile numbers outside the 11-19 area
// codes lose the leading 9 of the subscriber number.
func NormalizePhone(raw string) string {
	phone := digitsOnly(raw)
	if len(phone) == 11 && phone[2] == '9' {
		ddd := int(phone[0]-'0')*10 + int(phone[1]-'0')
		if ddd < 11 || ddd > 19 {
			phone = phone[:2] + phone[3:]
		}
	}
	return phone
}

func ValidPhone(raw string) bool {
	n := len(NormalizePhone(raw))
	return n >= 10 && n <= 11
}

func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func ValidEmail(raw string) bool {
	email := NormalizeEmail(raw)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func ValidName(raw string) bool {
	n := len([]rune(strings.TrimSpace(raw)))
	return n >= 2 && n <= 50
}

func digitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}
