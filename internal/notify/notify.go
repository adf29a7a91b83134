// Package notify holds the development dispatcher for reset secrets. The
// production dispatcher (mail, SMS) lives outside this system.
package notify

import (
	"context"

	"opsdesk.org/internal/obs"
)

// LogDispatcher writes reset secrets to the service log. Development only:
// it stands in for the out-of-band delivery channel.
type LogDispatcher struct{}

// DeliverResetSecret logs the secret instead of delivering it.
func (LogDispatcher) DeliverResetSecret(_ context.Context, email, secret string) error {
	obs.LogRequest(map[string]any{
		"level":  "info",
		"msg":    "password reset secret issued",
		"email":  email,
		"secret": secret,
	})
	return nil
}
