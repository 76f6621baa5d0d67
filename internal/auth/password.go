package auth

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "12345678": {}, "123456789": {},
	"1234567890": {}, "qwerty123": {}, "qwertyuiop": {}, "iloveyou": {}, "admin123": {},
	"welcome1": {}, "letmein1": {}, "football": {}, "baseball": {}, "sunshine": {},
	"princess": {}, "trustno1": {}, "passw0rd": {}, "abc12345": {}, "11111111": {},
	"kenya254": {}, "nairobi1": {}, "mpesa123": {},
}

// HashPassword hashes a plain password using bcrypt.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares plain password with hashed password.
func CheckPassword(plain, hashed string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}

// PasswordProblems returns every strength rule password breaks. email is used
// for the similarity rule and may be empty.
func PasswordProblems(password, email string) []string {
	var problems []string
	if len([]rune(password)) < MinPasswordLength {
		problems = append(problems, "This password is too short. It must contain at least 8 characters.")
	}
	if password != "" && strings.IndexFunc(password, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		problems = append(problems, "This password is entirely numeric.")
	}
	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		problems = append(problems, "This password is too common.")
	}
	if local, _, ok := strings.Cut(strings.ToLower(email), "@"); ok && len(local) >= 3 &&
		strings.Contains(strings.ToLower(password), local) {
		problems = append(problems, "The password is too similar to the email address.")
	}
	return problems
}
