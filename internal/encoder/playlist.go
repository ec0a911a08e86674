package encoder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/streamrelay/transcoder/internal/domain"
)

// BuildMasterPlaylist renders the HLS master playlist referencing one
// rendition per resolution, descending by height, pointing at the
// relative per-resolution playlist key the pipeline uploads each
// rendition under.
func BuildMasterPlaylist(resolutions []domain.Resolution) (string, error) {
	profiles := make([]Profile, 0, len(resolutions))
	for _, r := range resolutions {
		p, ok := Profiles[r]
		if !ok {
			return "", fmt.Errorf("unknown resolution %q", r)
		}
		profiles = append(profiles, p)
	}

	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].Height > profiles[j].Height })

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, p := range profiles {
		bandwidth := (p.VideoKbps + p.AudioKbps) * 1000
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"%s\"\n", bandwidth, p.Width, p.Height, p.Codecs)
		fmt.Fprintf(&b, "hls_%s/index-.m3u8\n", p.Resolution)
	}
	return b.String(), nil
}

// SupportedExtensions is the closed set of source file extensions the
// pipeline accepts without a warn log. Anything else still proceeds
// (per spec the check is advisory, not a hard gate) but is logged.
var SupportedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
	".flv":  true,
	".m4v":  true,
}

// IsSupportedExtension reports whether ext (including the leading dot,
// any case) belongs to the closed set.
func IsSupportedExtension(ext string) bool {
	return SupportedExtensions[strings.ToLower(ext)]
}
