package redact_test

import (
	"testing"

	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/redact"
)

func TestSecrets(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain", in: "read header: EOF", want: "read header: EOF"},
		{name: "bearer", in: "Authorization: Bearer abc.def.ghi rejected", want: "Authorization: Bearer <redacted> rejected"},
		{name: "api key", in: "bad request api_key=AIzaSecret", want: "bad request <redacted_kv>"},
		{name: "token kv", in: "token: s3cr3t ", want: "<redacted_kv>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redact.Secrets(tt.in); got != tt.want {
				t.Fatalf("Secrets(%q)=%q want=%q", tt.in, got, tt.want)
			}
		})
	}
}
