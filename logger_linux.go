// +build linux

package statsbeam

import "github.com/mongodb/grip/send"

// systemLogger returns a grip.Sender backed by the host's systemd
// journal, falling back to a native stderr sender if systemd isn't
// reachable (e.g. inside a container without a running journald).
func systemLogger() send.Sender {
	sender, err := send.MakeSystemdLogger()
	if err != nil {
		return send.MakeNative()
	}

	return sender
}
