package tracker

import (
	"fmt"
	"strings"
)

const (
	captchaMarker = "cap_sid"
	quotaMarker   = "суточный лимит скачиваний"
)

var maintenanceMarkers = []string{
	"Форум временно отключен",
	"Технические работы",
}

func signedIn(html string, accountID int) bool {
	return strings.Contains(html, fmt.Sprintf("profile.php?mode=viewprofile&amp;u=%d\"", accountID)) ||
		strings.Contains(html, fmt.Sprintf("profile.php?mode=viewprofile&u=%d\"", accountID))
}

func inMaintenance(html string) bool {
	for _, m := range maintenanceMarkers {
		if strings.Contains(html, m) {
			return true
		}
	}
	return false
}
