package auth

import (
	"regexp"
	"strings"

	"github.com/iliyamo/fiifi-auth/internal/model"
)

var (
	tabletUA = regexp.MustCompile(`(?i)iPad|Android.*Tablet|Kindle|Silk|Tablet`)
	mobileUA = regexp.MustCompile(`(?i)Mobile|Android|iPhone|iPod|BlackBerry|IEMobile|Opera Mini`)
)

// ClassifyDevice builds the device descriptor of a session from the
// request User-Agent and client IP.  Tablets are checked before phones
// since tablet user agents also match the phone patterns; an Android user
// agent without "Mobile" is a tablet.
func ClassifyDevice(userAgent, ip string) model.DeviceInfo {
	d := model.DeviceInfo{
		UserAgent:  userAgent,
		IPAddress:  ip,
		DeviceType: "desktop",
		Browser:    detectBrowser(userAgent),
		OS:         detectOS(userAgent),
	}
	if d.UserAgent == "" {
		d.UserAgent = "Unknown"
	}
	if d.IPAddress == "" {
		d.IPAddress = "Unknown"
	}
	switch {
	case tabletUA.MatchString(userAgent),
		strings.Contains(userAgent, "Android") && !strings.Contains(userAgent, "Mobile"):
		d.DeviceType = "tablet"
	case mobileUA.MatchString(userAgent):
		d.DeviceType = "mobile"
	}
	return d
}

// Order matters: Edge and Opera user agents also contain "Chrome", and
// Chrome's contains "Safari".
func detectBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Edg"):
		return "Edge"
	case strings.Contains(ua, "OPR") || strings.Contains(ua, "Opera"):
		return "Opera"
	case strings.Contains(ua, "Firefox"):
		return "Firefox"
	case strings.Contains(ua, "Chrome"):
		return "Chrome"
	case strings.Contains(ua, "Safari"):
		return "Safari"
	}
	return "Unknown"
}

// iOS user agents contain "Mac OS X" and Android ones contain "Linux".
func detectOS(ua string) string {
	switch {
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad") || strings.Contains(ua, "iOS"):
		return "iOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Mac OS"):
		return "macOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return "Unknown"
}
