package gateway

import "encoding/json"

// userData is the deezer.getUserData result. The uppercase member names
// are the wire format; ids use json.Number because they exceed the safe
// float64 integer range.
type userData struct {
	User      userInfo  `json:"USER"`
	UserToken string    `json:"USER_TOKEN"`
	APIToken  string    `json:"checkForm"`
	Gatekeeps gatekeeps `json:"__DZR_GATEKEEPS__"`
	MediaURL  string    `json:"URL_MEDIA"`
	Gain      gainInfo  `json:"GAIN"`
}

type userInfo struct {
	ID            json.Number   `json:"USER_ID"`
	Name          string        `json:"BLOG_NAME"`
	Options       userOptions   `json:"OPTIONS"`
	AudioSettings audioSettings `json:"AUDIO_SETTINGS"`
}

type userOptions struct {
	LicenseToken        string `json:"license_token"`
	ExpirationTimestamp int64  `json:"expiration_timestamp"`
	TooManyDevices      bool   `json:"too_many_devices"`
	AdsAudio            bool   `json:"ads_audio"`
}

type audioSettings struct {
	ConnectedDevicePreset string `json:"connected_device_streaming_preset"`
}

// gatekeeps carries feature switches. remote_control is a pointer so an
// absent key (older accounts) is not mistaken for a denial.
type gatekeeps struct {
	RemoteControl *bool `json:"remote_control"`
}

type gainInfo struct {
	Target json.Number `json:"TARGET"`
}

// AudioQuality is the user's streaming quality preference. The order
// matches the fallback ladder: lossless falls back through high and
// standard down to basic.
type AudioQuality int

const (
	QualityBasic    AudioQuality = iota // MP3 64 kbps
	QualityStandard                     // MP3 128 kbps
	QualityHigh                         // MP3 320 kbps
	QualityLossless                     // FLAC
)

func (q AudioQuality) String() string {
	switch q {
	case QualityBasic:
		return "basic"
	case QualityStandard:
		return "standard"
	case QualityHigh:
		return "high"
	case QualityLossless:
		return "lossless"
	default:
		return "unknown"
	}
}

func parseAudioQuality(s string) AudioQuality {
	switch s {
	case "low":
		return QualityBasic
	case "standard":
		return QualityStandard
	case "high":
		return QualityHigh
	case "lossless":
		return QualityLossless
	default:
		return QualityStandard
	}
}

// listResults wraps list-shaped gateway results.
type listResults[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

// Song is one entry of a song.getListData result. Filesizes of zero
// mean the format is not available for this track.
type Song struct {
	ID               json.Number `json:"SNG_ID"`
	Title            string      `json:"SNG_TITLE"`
	Artist           string      `json:"ART_NAME"`
	AlbumTitle       string      `json:"ALB_TITLE"`
	CoverID          string      `json:"ALB_PICTURE"`
	Duration         json.Number `json:"DURATION"`
	Gain             json.Number `json:"GAIN"`
	TrackToken       string      `json:"TRACK_TOKEN"`
	TrackTokenExpiry int64       `json:"TRACK_TOKEN_EXPIRE"`
	FilesizeFLAC     json.Number `json:"FILESIZE_FLAC"`
	FilesizeMP3320   json.Number `json:"FILESIZE_MP3_320"`
	FilesizeMP3128   json.Number `json:"FILESIZE_MP3_128"`
	FilesizeMP364    json.Number `json:"FILESIZE_MP3_64"`

	// Fallback points at a replacement track when this one is not
	// streamable in the user's region.
	Fallback *Song `json:"FALLBACK"`
}

// Episode is one entry of an episode.getData result. Episodes stream
// from an external URL without encryption.
type Episode struct {
	ID        json.Number `json:"EPISODE_ID"`
	Title     string      `json:"EPISODE_TITLE"`
	ShowName  string      `json:"SHOW_NAME"`
	CoverID   string      `json:"SHOW_ART_MD5"`
	Duration  json.Number `json:"DURATION"`
	StreamURL string      `json:"EPISODE_DIRECT_STREAM_URL"`
	Available bool        `json:"AVAILABLE"`
}

// Livestream is a livestream.getData result.
type Livestream struct {
	ID        json.Number    `json:"LIVESTREAM_ID"`
	Title     string         `json:"LIVESTREAM_TITLE"`
	CoverID   string         `json:"LIVESTREAM_IMAGE_MD5"`
	Available bool           `json:"AVAILABLE"`
	URLs      LivestreamURLs `json:"LIVESTREAM_URLS"`
}

// LivestreamURLs maps a bitrate label ("64", "128") to the stream URLs
// per codec at that bitrate.
type LivestreamURLs struct {
	Data map[string]CodecURLs `json:"data"`
}

// CodecURLs holds the stream URL per codec; empty means the codec is
// not offered at this bitrate.
type CodecURLs struct {
	AAC string `json:"aac"`
	MP3 string `json:"mp3"`
}
