package config

import "time"

// Default returns Settings populated with sensible defaults.
func Default() *Settings {
	return &Settings{
		DevToolsURL:             "http://127.0.0.1:9222",
		MusicBaseURL:            "https://music.youtube.com",
		MetadataEndpoint:        "http://127.0.0.1:26539/v1/tracks",
		ListenAddr:              "127.0.0.1:26538",
		ObserverMode:            ModePoll,
		PollInterval:            100 * time.Millisecond,
		MetadataPollInterval:    500 * time.Millisecond,
		NavigationTimeout:       8 * time.Second,
		EnrichmentRetryInterval: 10 * time.Second,
		EnrichmentCacheSize:     256,
		ArtworkDir:              "/tmp/playsync/artwork",
		ArtworkSize:             512,
		MPRISEnabled:            true,
		LogLevel:                "info",
	}
}

// ApplyDefaults fills in zero values with sensible defaults.
func (s *Settings) ApplyDefaults() {
	d := Default()

	if s.DevToolsURL == "" {
		s.DevToolsURL = d.DevToolsURL
	}
	if s.MusicBaseURL == "" {
		s.MusicBaseURL = d.MusicBaseURL
	}
	if s.MetadataEndpoint == "" {
		s.MetadataEndpoint = d.MetadataEndpoint
	}
	if s.ListenAddr == "" {
		s.ListenAddr = d.ListenAddr
	}
	if s.ObserverMode == "" {
		s.ObserverMode = d.ObserverMode
	}
	if s.PollInterval == 0 {
		s.PollInterval = d.PollInterval
	}
	if s.MetadataPollInterval == 0 {
		s.MetadataPollInterval = d.MetadataPollInterval
	}
	if s.NavigationTimeout == 0 {
		s.NavigationTimeout = d.NavigationTimeout
	}
	if s.EnrichmentRetryInterval == 0 {
		s.EnrichmentRetryInterval = d.EnrichmentRetryInterval
	}
	if s.EnrichmentCacheSize == 0 {
		s.EnrichmentCacheSize = d.EnrichmentCacheSize
	}
	if s.ArtworkDir == "" {
		s.ArtworkDir = d.ArtworkDir
	}
	if s.ArtworkSize == 0 {
		s.ArtworkSize = d.ArtworkSize
	}
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
}
