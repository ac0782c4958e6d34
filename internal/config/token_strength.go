package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakTokenScoreThreshold = 3

// IsWeakToken reports whether the admin token is too guessable to expose on
// a network. An empty token disables auth entirely and is not judged here.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < weakTokenScoreThreshold
}
