package banner

import (
	"github.com/charmbracelet/lipgloss"

	"netdash/internal/tui/styles"
)

const ascii = `
            _      _           _
 _ __   ___| |_ __| | __ _ ___| |__
| '_ \ / _ \ __/ _' |/ _' / __| '_ \
| | | |  __/ || (_| | (_| \__ \ | | |
|_| |_|\___|\__\__,_|\__,_|___/_| |_|`

// GetString renders the banner with a tagline.
func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	return "\n" + style.Render(ascii) + "\n" +
		styles.Subtle.Render("  wave-paced HTTP probing for hosts you are authorized to test") + "\n"
}
