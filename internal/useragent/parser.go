// Package useragent classifies User-Agent strings into browser, OS and
// device fields.
package useragent

import (
	"regexp"
	"strings"

	"github.com/krezek/linktrace/internal/models"
)

// Device type codes carried opaquely by clients.
const (
	TypeMobile  = "1"
	TypeTablet  = "2"
	TypeDesktop = "3"
)

// Parser turns a raw User-Agent header into a device classification.
// It is a capability interface so the accumulator can be tested with a stub.
type Parser interface {
	Parse(userAgent string) models.DeviceInfo
}

// Heuristic is a substring-matching parser. It intentionally trades
// completeness for zero dependencies; unrecognized agents come back as
// "Unknown" rather than errors.
type Heuristic struct{}

var (
	macVersionRe     = regexp.MustCompile(`mac os x (\d+)[._](\d+)`)
	androidVersionRe = regexp.MustCompile(`android ([\d.]+)`)
	iosVersionRe     = regexp.MustCompile(`os ([\d_]+)`)
	androidModelRe   = regexp.MustCompile(`android[^;]*; ([^);]+)`)
)

// Parse implements Parser.
func (Heuristic) Parse(userAgent string) models.DeviceInfo {
	if userAgent == "" {
		return models.DeviceInfo{}
	}
	ua := strings.ToLower(userAgent)
	return models.DeviceInfo{
		Browser:      browser(ua),
		OS:           operatingSystem(ua),
		Device:       device(ua),
		DeviceVendor: vendor(ua),
		DeviceType:   deviceType(ua),
	}
}

func browser(ua string) string {
	switch {
	case strings.Contains(ua, "edg"):
		return "Edge"
	case strings.Contains(ua, "opera") || strings.Contains(ua, "opr"):
		return "Opera"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "safari"):
		return "Safari"
	case strings.Contains(ua, "msie") || strings.Contains(ua, "trident"):
		return "Internet Explorer"
	}
	return "Unknown"
}

func operatingSystem(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		switch {
		case strings.Contains(ua, "windows nt 10"):
			return "Windows 10"
		case strings.Contains(ua, "windows nt 6.3"):
			return "Windows 8.1"
		case strings.Contains(ua, "windows nt 6.2"):
			return "Windows 8"
		case strings.Contains(ua, "windows nt 6.1"):
			return "Windows 7"
		}
		return "Windows"
	case strings.Contains(ua, "android"):
		if m := androidVersionRe.FindStringSubmatch(ua); m != nil {
			return "Android " + m[1]
		}
		return "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		if m := iosVersionRe.FindStringSubmatch(ua); m != nil {
			return "iOS " + strings.ReplaceAll(m[1], "_", ".")
		}
		return "iOS"
	case strings.Contains(ua, "mac os x"), strings.Contains(ua, "macintosh"):
		if m := macVersionRe.FindStringSubmatch(ua); m != nil {
			return "macOS " + m[1] + "." + m[2]
		}
		return "macOS"
	case strings.Contains(ua, "ubuntu"):
		return "Ubuntu"
	case strings.Contains(ua, "linux"):
		return "Linux"
	}
	return "Unknown"
}

func device(ua string) string {
	switch {
	case strings.Contains(ua, "iphone"):
		return "iPhone"
	case strings.Contains(ua, "ipad"):
		return "iPad"
	case strings.Contains(ua, "android"):
		if m := androidModelRe.FindStringSubmatch(ua); m != nil {
			return strings.TrimSpace(m[1])
		}
		return "Android Device"
	case strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		return "Mac"
	case strings.Contains(ua, "windows"):
		return "PC"
	case strings.Contains(ua, "linux"):
		return "Linux Device"
	}
	return "Unknown Device"
}

func vendor(ua string) string {
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"),
		strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		return "Apple"
	case strings.Contains(ua, "samsung"):
		return "Samsung"
	case strings.Contains(ua, "huawei"):
		return "Huawei"
	case strings.Contains(ua, "xiaomi"):
		return "Xiaomi"
	case strings.Contains(ua, "oneplus"):
		return "OnePlus"
	case strings.Contains(ua, "windows"):
		return "Microsoft"
	}
	return "Unknown"
}

func deviceType(ua string) string {
	switch {
	case strings.Contains(ua, "ipad"):
		return TypeTablet
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		return TypeMobile
	}
	return TypeDesktop
}
