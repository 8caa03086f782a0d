package config

const (
	defaultConfigPath       = "~/.config/chunkwise/config.toml"
	defaultHistoryDB        = "~/.local/share/chunkwise/history.db"
	defaultEncoder          = EncoderSvtAv1
	defaultEncoderParams    = "--preset 6 --crf 30"
	defaultPixFmt           = "yuv420p10le"
	defaultChunkMethod      = ChunkScene
	defaultChunkInterval    = 240
	defaultMinChunkLength   = 24
	defaultMaxChunkLength   = 480
	defaultSceneThreshold   = 10.0
	defaultDownscaleHeight  = 540
	defaultMaxTries         = 3
	defaultWatchdogSeconds  = 300
	defaultAudioMode        = AudioCopy
	defaultAudioCodec       = "libopus"
	defaultConcatMethod     = ConcatFFmpeg
	defaultSourceCrop       = CropNone
	defaultSourceSeek       = true
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultMetricsListen    = ""
	defaultWorkerCount      = 0
	defaultNtfyTimeout      = 10
	defaultResumeEnabled    = true
	defaultResumePurgeStale = true
)

// Encoder names understood by the worker pool.
const (
	EncoderSvtAv1 = "svt-av1"
	EncoderAom    = "aom"
	EncoderRav1e  = "rav1e"
	EncoderX264   = "x264"
	EncoderX265   = "x265"
)

// Chunking methods.
const (
	ChunkFixed    = "fixed"
	ChunkScene    = "scene"
	ChunkKeyframe = "keyframe"
	ChunkNone     = "none"
)

// Audio modes.
const (
	AudioCopy   = "copy"
	AudioEncode = "encode"
	AudioNone   = "none"
)

// Concat methods.
const (
	ConcatFFmpeg   = "ffmpeg"
	ConcatMkvmerge = "mkvmerge"
)

// Crop settings other than an explicit crop=W:H:X:Y filter.
const (
	CropNone = "none"
	CropAuto = "auto"
)

// EncoderNames lists the supported encoder names in display order.
func EncoderNames() []string {
	return []string{EncoderSvtAv1, EncoderAom, EncoderRav1e, EncoderX264, EncoderX265}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Encoder: Encoder{
			Name:   defaultEncoder,
			Params: defaultEncoderParams,
			PixFmt: defaultPixFmt,
		},
		Chunking: Chunking{
			Method:          defaultChunkMethod,
			Interval:        defaultChunkInterval,
			MinLength:       defaultMinChunkLength,
			MaxLength:       defaultMaxChunkLength,
			SceneThreshold:  defaultSceneThreshold,
			DownscaleHeight: defaultDownscaleHeight,
		},
		Workers: Workers{
			Count:           defaultWorkerCount,
			MaxTries:        defaultMaxTries,
			WatchdogSeconds: defaultWatchdogSeconds,
		},
		Resume: Resume{
			Enabled:    defaultResumeEnabled,
			PurgeStale: defaultResumePurgeStale,
		},
		Source: Source{
			Crop: defaultSourceCrop,
			Seek: defaultSourceSeek,
		},
		Audio: Audio{
			Mode:  defaultAudioMode,
			Codec: defaultAudioCodec,
		},
		Concat: Concat{
			Method: defaultConcatMethod,
		},
		Paths: Paths{
			HistoryDB: defaultHistoryDB,
		},
		Metrics: Metrics{
			Listen: defaultMetricsListen,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
