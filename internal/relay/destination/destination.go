// Package destination implements the pure URL constructor and transcoder
// argument builder used by the fan-out engine. Nothing here touches a
// network or a process; both functions are total and side-effect free.
package destination

import (
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/transcode/internal/relayerr"
)

// Platform identifies the kind of RTMP/RTMPS destination.
type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformTwitch   Platform = "twitch"
	PlatformFacebook Platform = "facebook"
	PlatformCustom   Platform = "custom"
)

// Destination is the validated descriptor carried from a start-rtmp-stream
// request through to a spawned transcoder.
type Destination struct {
	Platform  Platform
	StreamKey string
	CustomURL string
	RTMPURL   string
}

// Construct validates and builds the RTMP/RTMPS URL for a destination. It
// mirrors the fixed platform table: changing any of these URLs changes
// on-the-wire behavior for every broadcaster using this server.
func Construct(platform Platform, streamKey, customURL string) (string, error) {
	if streamKey == "" {
		return "", relayerr.WithPlatform(relayerr.KindInvalidDestination, string(platform), "stream key is empty", nil)
	}

	switch platform {
	case PlatformYouTube:
		return "rtmps://a.rtmp.youtube.com:443/live2/" + streamKey, nil
	case PlatformTwitch:
		return "rtmp://live.twitch.tv/app/" + streamKey, nil
	case PlatformFacebook:
		return "rtmps://live-api-s.facebook.com:443/rtmp/" + streamKey, nil
	case PlatformCustom:
		if customURL == "" {
			return "", relayerr.WithPlatform(relayerr.KindInvalidDestination, string(platform), "custom URL is empty", nil)
		}
		return joinURL(customURL, streamKey), nil
	default:
		return "", relayerr.WithPlatform(relayerr.KindInvalidDestination, string(platform), fmt.Sprintf("unknown platform %q", platform), nil)
	}
}

// joinURL joins a base URL and a stream key with exactly one '/' separator,
// regardless of whether the base already ends in one.
func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// New validates a raw destination request and constructs its RTMP URL.
func New(platform Platform, streamKey, customURL string) (Destination, error) {
	switch platform {
	case PlatformYouTube, PlatformTwitch, PlatformFacebook, PlatformCustom:
	default:
		return Destination{}, relayerr.WithPlatform(relayerr.KindInvalidDestination, string(platform), fmt.Sprintf("unknown platform %q", platform), nil)
	}

	url, err := Construct(platform, streamKey, customURL)
	if err != nil {
		return Destination{}, err
	}

	return Destination{
		Platform:  platform,
		StreamKey: streamKey,
		CustomURL: customURL,
		RTMPURL:   url,
	}, nil
}
