package util

import (
	"net/mail"
	"regexp"
)

var (
	userIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)
	walletRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// IsValidUserID accepts 3-64 characters of letters, digits, dot, dash and underscore.
func IsValidUserID(s string) bool {
	return userIDRegex.MatchString(s)
}

func IsValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// IsValidWallet accepts a 0x-prefixed 20-byte hex address.
func IsValidWallet(s string) bool {
	return walletRegex.MatchString(s)
}
