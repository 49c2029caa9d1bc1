package service

import (
	"testing"

	"github.com/matt-riley/engage/internal/repository"
)

func TestReplaceKeys(t *testing.T) {
	customer := repository.Customer{Name: "Bat", Email: "bat@example.com"}
	user := repository.User{FullName: "Dana Reeve", Position: "Support", Email: "dana@acme.test"}

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "all placeholders",
			content: "Hi {{customer.name}} <{{customer.email}}>, this is {{user.fullName}} ({{user.position}}, {{user.email}})",
			want:    "Hi Bat <bat@example.com>, this is Dana Reeve (Support, dana@acme.test)",
		},
		{
			name:    "case insensitive",
			content: "Hi {{ Customer.Name }} from {{USER.FULLNAME}}",
			want:    "Hi Bat from Dana Reeve",
		},
		{
			name:    "whitespace inside braces",
			content: "{{  customer.name  }}",
			want:    "Bat",
		},
		{
			name:    "repeated placeholder",
			content: "{{customer.name}} {{customer.name}}",
			want:    "Bat Bat",
		},
		{
			name:    "no placeholders",
			content: "plain text",
			want:    "plain text",
		},
		{
			name:    "unknown placeholder untouched",
			content: "{{customer.phone}}",
			want:    "{{customer.phone}}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := replaceKeys(tt.content, customer, user); got != tt.want {
				t.Fatalf("replaceKeys(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestReplaceKeysDollarSignsAreLiteral(t *testing.T) {
	customer := repository.Customer{Name: "$500 club", Email: "team$1@example.com"}
	user := repository.User{FullName: "Dana $Reeve", Position: "$0", Email: "$"}

	got := replaceKeys("Hello {{customer.name}} <{{customer.email}}> - {{user.fullName}} ({{user.position}}) {{user.email}}", customer, user)
	want := "Hello $500 club <team$1@example.com> - Dana $Reeve ($0) $"
	if got != want {
		t.Fatalf("replaceKeys() = %q, want %q", got, want)
	}
}

func TestReplaceKeysEmptyFields(t *testing.T) {
	got := replaceKeys("Hi {{customer.name}}!", repository.Customer{}, repository.User{})
	if got != "Hi !" {
		t.Fatalf("replaceKeys() = %q, want %q", got, "Hi !")
	}
}
