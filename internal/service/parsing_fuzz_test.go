package service

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/matt-riley/engage/internal/repository"
)

func FuzzDecodeRules(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte(`[]`))
	f.Add([]byte(`[{"kind":"browserLanguage","condition":"is","value":"en"}]`))
	f.Add([]byte(`[{"kind":"numberOfVisits","condition":"greaterThan","value":3}]`))
	f.Add([]byte(`[{"kind":"city","condition":"contains","value":"laan"}]`))
	f.Add([]byte(`{"invalid":true}`))
	f.Add([]byte(`[{"kind":`))

	f.Fuzz(func(t *testing.T, payload []byte) {
		rules, err := decodeRules(json.RawMessage(payload))
		if len(payload) == 0 {
			if err != nil || len(rules) != 0 {
				t.Fatalf("decodeRules(empty) = (%v, %v), want (empty, nil)", rules, err)
			}
			return
		}

		if err != nil && !errors.Is(err, ErrInvalidRules) {
			t.Fatalf("decodeRules(%q) error = %v, want ErrInvalidRules-wrapped error", payload, err)
		}
		if err == nil && rules == nil {
			t.Fatalf("decodeRules(%q) returned nil rules without error", payload)
		}
	})
}

func FuzzReplaceKeys(f *testing.F) {
	f.Add("Hello {{customer.name}}", "Bat", "Dana")
	f.Add("{{ USER.FULLNAME }} / {{customer.email}}", "", "x")
	f.Add("{{customer.name", "a", "b")

	f.Fuzz(func(t *testing.T, content, customerName, userFullName string) {
		customer := repository.Customer{Name: customerName}
		user := repository.User{FullName: userFullName}

		got := replaceKeys(content, customer, user)
		if !containsPlaceholder(content) && got != content {
			t.Fatalf("replaceKeys changed placeholder-free content: %q -> %q", content, got)
		}
	})
}

func containsPlaceholder(content string) bool {
	for _, pattern := range []interface{ MatchString(string) bool }{
		customerNamePattern, customerEmailPattern,
		userFullNamePattern, userPositionPattern, userEmailPattern,
	} {
		if pattern.MatchString(content) {
			return true
		}
	}
	return false
}
