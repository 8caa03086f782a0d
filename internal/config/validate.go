package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateConcat(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEncoder() error {
	if !slices.Contains(EncoderNames(), c.Encoder.Name) {
		return fmt.Errorf("encoder.name must be one of %s (got %q)", strings.Join(EncoderNames(), ", "), c.Encoder.Name)
	}
	if strings.ContainsAny(c.Encoder.PixFmt, " \t") {
		return fmt.Errorf("encoder.pix_fmt %q must be a single ffmpeg pixel format", c.Encoder.PixFmt)
	}
	return nil
}

func (c *Config) validateChunking() error {
	switch c.Chunking.Method {
	case ChunkFixed, ChunkScene, ChunkKeyframe, ChunkNone:
	default:
		return fmt.Errorf("chunking.method must be fixed, scene, keyframe, or none (got %q)", c.Chunking.Method)
	}
	if c.Chunking.Interval <= 0 {
		return errors.New("chunking.interval must be positive")
	}
	if c.Chunking.MinLength < 0 {
		return errors.New("chunking.min_length must be >= 0")
	}
	if c.Chunking.MaxLength < 0 {
		return errors.New("chunking.max_length must be >= 0")
	}
	if c.Chunking.MaxLength > 0 && c.Chunking.MaxLength < c.Chunking.MinLength {
		return errors.New("chunking.max_length must be >= chunking.min_length")
	}
	if c.Chunking.SceneThreshold <= 0 || c.Chunking.SceneThreshold > 100 {
		return errors.New("chunking.scene_threshold must be between 0 and 100")
	}
	if c.Chunking.DownscaleHeight < 0 {
		return errors.New("chunking.downscale_height must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count < 0 {
		return errors.New("workers.count must be >= 0 (0 selects automatically)")
	}
	if c.Workers.MaxTries < 1 {
		return errors.New("workers.max_tries must be >= 1")
	}
	if c.Workers.WatchdogSeconds < 0 {
		return errors.New("workers.watchdog_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateSource() error {
	switch c.Source.Crop {
	case CropNone, CropAuto:
		return nil
	}
	if !validCropFilter(c.Source.Crop) {
		return fmt.Errorf("source.crop must be none, auto, or crop=W:H:X:Y (got %q)", c.Source.Crop)
	}
	return nil
}

func (c *Config) validateAudio() error {
	switch c.Audio.Mode {
	case AudioCopy, AudioEncode, AudioNone:
		return nil
	default:
		return fmt.Errorf("audio.mode must be copy, encode, or none (got %q)", c.Audio.Mode)
	}
}

func (c *Config) validateConcat() error {
	switch c.Concat.Method {
	case ConcatFFmpeg, ConcatMkvmerge:
		return nil
	default:
		return fmt.Errorf("concat.method must be ffmpeg or mkvmerge (got %q)", c.Concat.Method)
	}
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL (got %q)", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
}

func validCropFilter(value string) bool {
	rest, ok := strings.CutPrefix(value, "crop=")
	if !ok {
		return false
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 4 {
		return false
	}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || (i < 2 && n == 0) {
			return false
		}
	}
	return true
}
