package models

import "fmt"

// Platform identifies a connected social network.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformThreads   Platform = "threads"
)

// AllPlatforms lists every platform the engine can speak to.
var AllPlatforms = []Platform{
	PlatformTwitter,
	PlatformFacebook,
	PlatformInstagram,
	PlatformTikTok,
	PlatformThreads,
}

func (p Platform) String() string {
	return string(p)
}

func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformFacebook, PlatformInstagram, PlatformTikTok, PlatformThreads:
		return true
	}
	return false
}

// ParsePlatform converts a wire value into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}
