package config

import "github.com/hamed0406/speedmon/internal/probe"

func (c Config) DownloadTarget() probe.DownloadTarget {
	return probe.DownloadTarget{
		URL:           c.DownloadURL,
		WarmupURL:     c.WarmupURL,
		Timeout:       c.DownloadTimeout,
		WarmupTimeout: c.WarmupTimeout,
	}
}

func (c Config) UploadTarget() probe.UploadTarget {
	return probe.UploadTarget{
		URL:            c.UploadURL,
		PayloadSizeMB:  c.PayloadSizeMB,
		ChunkSizeMB:    c.ChunkSizeMB,
		Concurrency:    c.Concurrency,
		RequestTimeout: c.UploadTimeout,
	}
}
