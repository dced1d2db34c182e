package launch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/launch"
)

func TestSanitizeEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{"strips at-sign and dot", "jane.doe@example.com", "janedoeexamplecom"},
		{"keeps letters digits and spaces", "user 42", "user 42"},
		{"strips plus addressing", "jane+test@example.com", "janetestexamplecom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, launch.SanitizeEmail(tt.email))
		})
	}
}

func TestSanitizeImageName(t *testing.T) {
	tests := []struct {
		name     string
		image    string
		expected string
	}{
		{"strips tag colon", "ubuntu:22.04", "ubuntu22.04"},
		{"strips registry slashes", "registry.local/team/image:latest", "registry.localteamimagelatest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, launch.SanitizeImageName(tt.image))
		})
	}
}

func TestContainerName(t *testing.T) {
	now := time.Date(2026, 3, 5, 9, 30, 15, 0, time.UTC)
	name := launch.ContainerName("res-123", "team/image:latest", now)
	assert.Equal(t, "reservation-res-123-teamimagelatest-03_05_2026_09_30_15", name)
}

func TestSubstituteMountVars(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		email    string
		userID   string
		expected string
	}{
		{
			name:     "substitutes both placeholders",
			path:     "/data/{email}/{userid}",
			email:    "jane.doe@example.com",
			userID:   "user-1",
			expected: "/data/janedoeexamplecom/user-1",
		},
		{
			name:     "path without placeholders is unchanged",
			path:     "/data/shared",
			email:    "jane@example.com",
			userID:   "user-1",
			expected: "/data/shared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, launch.SubstituteMountVars(tt.path, tt.email, tt.userID))
		})
	}
}

func TestGeneratePasswordIsRandomAndCorrectLength(t *testing.T) {
	a, err := launch.GeneratePassword()
	assert.NoError(t, err)
	assert.Len(t, a, 32)

	b, err := launch.GeneratePassword()
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}
