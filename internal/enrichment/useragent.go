package enrichment

import (
	"strings"

	"github.com/mssola/user_agent"
)

type UAInfo struct {
	Browser    string
	OS         string
	DeviceType string
	IsBot      bool
}

func ParseUserAgent(uaString string) *UAInfo {
	if strings.TrimSpace(uaString) == "" {
		return &UAInfo{DeviceType: "unknown"}
	}

	ua := user_agent.New(uaString)
	browser, version := ua.Browser()
	if browser != "" && version != "" {
		if major, _, ok := strings.Cut(version, "."); ok {
			version = major
		}
		browser += " " + version
	}

	info := &UAInfo{
		Browser:    browser,
		OS:         ua.OS(),
		DeviceType: "desktop",
		IsBot:      ua.Bot(),
	}
	switch {
	case info.IsBot:
		info.DeviceType = "bot"
	case ua.Mobile():
		info.DeviceType = "mobile"
	}
	return info
}
