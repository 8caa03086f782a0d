package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeEncoder()
	c.normalizeChunking()
	c.normalizeWorkers()
	c.normalizeSource()
	c.normalizeAudio()
	c.normalizeConcat()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeEncoder() {
	c.Encoder.Name = strings.ToLower(strings.TrimSpace(c.Encoder.Name))
	switch c.Encoder.Name {
	case "":
		c.Encoder.Name = defaultEncoder
	case "svt", "svtav1", "svt_av1":
		c.Encoder.Name = EncoderSvtAv1
	case "aomenc", "libaom":
		c.Encoder.Name = EncoderAom
	}
	c.Encoder.Binary = strings.TrimSpace(c.Encoder.Binary)
	c.Encoder.Params = strings.TrimSpace(c.Encoder.Params)
	c.Encoder.PixFmt = strings.TrimSpace(c.Encoder.PixFmt)
	if c.Encoder.PixFmt == "" {
		c.Encoder.PixFmt = defaultPixFmt
	}
}

func (c *Config) normalizeChunking() {
	c.Chunking.Method = strings.ToLower(strings.TrimSpace(c.Chunking.Method))
	if c.Chunking.Method == "" {
		c.Chunking.Method = defaultChunkMethod
	}
	if c.Chunking.Interval == 0 {
		c.Chunking.Interval = defaultChunkInterval
	}
	if c.Chunking.SceneThreshold == 0 {
		c.Chunking.SceneThreshold = defaultSceneThreshold
	}
	if c.Chunking.DownscaleHeight == 0 {
		c.Chunking.DownscaleHeight = defaultDownscaleHeight
	}
}

func (c *Config) normalizeWorkers() {
	if c.Workers.MaxTries == 0 {
		c.Workers.MaxTries = defaultMaxTries
	}
}

func (c *Config) normalizeSource() {
	c.Source.Crop = strings.TrimSpace(c.Source.Crop)
	switch strings.ToLower(c.Source.Crop) {
	case "", "off", "false", CropNone:
		c.Source.Crop = CropNone
	case CropAuto:
		c.Source.Crop = CropAuto
	}
	c.Source.Filters = strings.TrimSpace(c.Source.Filters)
}

func (c *Config) normalizeAudio() {
	c.Audio.Mode = strings.ToLower(strings.TrimSpace(c.Audio.Mode))
	if c.Audio.Mode == "" {
		c.Audio.Mode = defaultAudioMode
	}
	c.Audio.Codec = strings.TrimSpace(c.Audio.Codec)
	if c.Audio.Codec == "" {
		c.Audio.Codec = defaultAudioCodec
	}
	c.Audio.Bitrate = strings.TrimSpace(c.Audio.Bitrate)
}

func (c *Config) normalizeConcat() {
	c.Concat.Method = strings.ToLower(strings.TrimSpace(c.Concat.Method))
	if c.Concat.Method == "" {
		c.Concat.Method = defaultConcatMethod
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		if value, ok := os.LookupEnv("CHUNKWISE_TEMP_DIR"); ok {
			c.Paths.TempDir = strings.TrimSpace(value)
		}
	}
	if c.Paths.TempDir, err = expandPath(strings.TrimSpace(c.Paths.TempDir)); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if c.Paths.HistoryDB, err = expandPath(strings.TrimSpace(c.Paths.HistoryDB)); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
