package sandbox

import (
	"fmt"
	"strings"
)

// seatbeltQuote escapes a path for use inside a Seatbelt string literal.
func seatbeltQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// SeatbeltProfile renders the sandbox-exec profile for the constraints.
func SeatbeltProfile(c Constraints) string {
	rules := []string{
		"(version 1)",
		"(deny default)",
		"(allow process-exec)",
		"(allow process-fork)",
		"(allow signal (target self))",

		// System libraries and frameworks.
		`(allow file-read* (subpath "/usr/lib"))`,
		`(allow file-read* (subpath "/System/Library"))`,
		`(allow file-read* (subpath "/Library/Frameworks"))`,
		`(allow file-read* (subpath "/dev"))`,
		`(allow file-read* (literal "/etc/passwd"))`,
		`(allow file-read* file-write* (subpath "/tmp"))`,
		`(allow file-read* file-write* (subpath "/var/tmp"))`,
		`(allow file-write* (literal "/dev/null"))`,
	}

	switch c.Filesystem.Mode {
	case FilesystemFull:
		rules = append(rules, "(allow file-read* file-write*)")
	case FilesystemReadOnly:
		rules = append(rules, "(allow file-read*)")
	case FilesystemPaths:
		for _, p := range c.Filesystem.Paths {
			rules = append(rules, fmt.Sprintf("(allow file-read* file-write* (subpath %s))", seatbeltQuote(p)))
		}
	}

	if c.Network {
		rules = append(rules,
			"(allow network-outbound)",
			"(allow network-inbound)",
			"(allow system-socket)",
		)
	} else {
		rules = append(rules, "(deny network*)")
	}

	rules = append(rules,
		"(allow ipc-posix*)",
		`(allow mach-lookup (global-name "com.apple.system.notification_center"))`,
		"(allow system-info)",
		"(allow sysctl-read)",
	)

	return strings.Join(rules, "\n") + "\n"
}
