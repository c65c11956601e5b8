package models

import (
	"cmp"
	"slices"
)

// Record is the stored form of a credential. Secret holds the sealed
// (KMS-encrypted, base64-encoded) value, never plaintext.
type Record struct {
	Service  string `json:"Service" dynamodbav:"Service" db:"service"`
	Username string `json:"Username" dynamodbav:"Username" db:"username"`
	Secret   string `json:"Secret" dynamodbav:"Secret" db:"secret"`
}

// Credential is a decrypted record as produced by an export.
type Credential struct {
	Service  string `json:"Service" yaml:"Service"`
	Username string `json:"Username" yaml:"Username"`
	Secret   string `json:"Secret" yaml:"Secret"`
}

func compareKeys(aService, aUser, bService, bUser string) int {
	if c := cmp.Compare(aService, bService); c != 0 {
		return c
	}
	return cmp.Compare(aUser, bUser)
}

// SortCredentials orders credentials by service, then username.
func SortCredentials(creds []Credential) {
	slices.SortFunc(creds, func(a, b Credential) int {
		return compareKeys(a.Service, a.Username, b.Service, b.Username)
	})
}

// SortRecords orders records by service, then username.
func SortRecords(records []*Record) {
	slices.SortFunc(records, func(a, b *Record) int {
		return compareKeys(a.Service, a.Username, b.Service, b.Username)
	})
}
