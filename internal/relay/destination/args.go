package destination

// BuildArgs returns the canonical transcoder argument vector for publishing
// to rtmpURL. This argument list is a contract: it fixes the transcoding
// policy the relay applies to every destination (spec.md §4.1) and changing
// it changes on-the-wire behavior for every downstream platform. Do not
// tune per-destination; add a new contract version instead of mutating
// these in place.
func BuildArgs(rtmpURL string) []string {
	return []string{
		// Input: forgiving timestamp handling for a live, header-then-chunks feed.
		"-fflags", "+genpts+discardcorrupt",
		"-use_wallclock_as_timestamps", "1",
		"-probesize", "32",
		"-analyzeduration", "0",
		"-i", "pipe:0",

		// Video: fast H.264, tuned for low latency, fixed bitrate ladder.
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-sc_threshold", "0",
		"-b:v", "3000k",
		"-maxrate", "3000k",
		"-bufsize", "6000k",
		"-r", "30",
		"-g", "60",
		"-keyint_min", "60",
		"-pix_fmt", "yuv420p",

		// Audio: stereo AAC.
		"-c:a", "aac",
		"-ar", "44100",
		"-ac", "2",
		"-b:a", "128k",

		// Output: eager flush, FLV over RTMP.
		"-flvflags", "no_duration_filesize",
		"-flush_packets", "1",
		"-f", "flv",
		rtmpURL,
	}
}
