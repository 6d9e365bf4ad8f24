package sink

import "droneops-console/internal/alert"

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
	colorWhite   = "\x1b[37m"
)

func statusColor(s alert.Status) string {
	switch s {
	case alert.StatusActive:
		return colorRed
	case alert.StatusSent:
		return colorYellow
	case alert.StatusNeutralised:
		return colorGreen
	}
	return colorGray
}
