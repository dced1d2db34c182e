package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupAdmins(t *testing.T) {
	tests := []struct {
		name         string
		adminEmails  []string
		excludeEmail string
		expected     []string
	}{
		{
			name:         "removes the failing user's own address",
			adminEmails:  []string{"admin1@example.com", "user@example.com", "admin2@example.com"},
			excludeEmail: "user@example.com",
			expected:     []string{"admin1@example.com", "admin2@example.com"},
		},
		{
			name:         "deduplicates repeated entries",
			adminEmails:  []string{"admin1@example.com", "admin1@example.com"},
			excludeEmail: "",
			expected:     []string{"admin1@example.com"},
		},
		{
			name:         "empty admin list stays empty",
			adminEmails:  nil,
			excludeEmail: "user@example.com",
			expected:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &LoggingNotifier{AdminEmails: tt.adminEmails}
			assert.Equal(t, tt.expected, n.dedupAdmins(tt.excludeEmail))
		})
	}
}
