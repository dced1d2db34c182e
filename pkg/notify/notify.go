/*
Package notify defines the trigger points for user- and admin-facing
notifications. SMTP delivery itself is out of scope; Notifier is satisfied
here by a logging implementation that records what would be sent.
*/
package notify

import (
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/logging"
	"github.com/Satakunnan-ammattikorkeakoulu/containers-on-the-fly/pkg/types"
)

// Notifier is called at the points the original dispatches email: container
// start success/failure, and an admin alert fan-out on failure.
type Notifier interface {
	ContainerStarted(user *types.User, reservation *types.Reservation)
	ContainerStartFailed(user *types.User, reservation *types.Reservation, reason string)
	AdminAlert(admins []string, reservation *types.Reservation, reason string)
}

// LoggingNotifier records notifications via structured logging instead of
// sending them. Config gates the admin alert fan-out the way
// notifications.containerAlertsEnabled does in the original.
type LoggingNotifier struct {
	AdminAlertsEnabled bool
	AdminEmails        []string
}

func NewLoggingNotifier(adminAlertsEnabled bool, adminEmails []string) *LoggingNotifier {
	return &LoggingNotifier{AdminAlertsEnabled: adminAlertsEnabled, AdminEmails: adminEmails}
}

func (n *LoggingNotifier) ContainerStarted(user *types.User, reservation *types.Reservation) {
	logging.WithReservation(reservation.ID).Info().
		Str("user_email", user.Email).
		Msg("container started notification")
}

func (n *LoggingNotifier) ContainerStartFailed(user *types.User, reservation *types.Reservation, reason string) {
	logger := logging.WithReservation(reservation.ID)
	logger.Warn().
		Str("user_email", user.Email).
		Str("reason", reason).
		Msg("container start failure notification")

	if n.AdminAlertsEnabled {
		n.AdminAlert(n.dedupAdmins(user.Email), reservation, reason)
	}
}

func (n *LoggingNotifier) AdminAlert(admins []string, reservation *types.Reservation, reason string) {
	if len(admins) == 0 {
		return
	}
	logging.WithReservation(reservation.ID).Warn().
		Strs("admin_emails", admins).
		Str("reason", reason).
		Msg("admin alert notification")
}

// dedupAdmins returns the configured admin list minus the given user's own
// address, deduplicated.
func (n *LoggingNotifier) dedupAdmins(excludeEmail string) []string {
	seen := make(map[string]bool, len(n.AdminEmails))
	var out []string
	for _, email := range n.AdminEmails {
		if email == excludeEmail || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}
