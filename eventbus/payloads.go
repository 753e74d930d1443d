package eventbus

// ProgressPayload is the progress channel's schema (spec §4.C).
type ProgressPayload struct {
	Stage           string  `json:"stage"`
	Percent         float64 `json:"percent"`
	DownloadedBytes *int64  `json:"downloaded_bytes,omitempty"`
	TotalBytes      *int64  `json:"total_bytes,omitempty"`
	Speed           *string `json:"speed,omitempty"`
	ETA             *string `json:"eta,omitempty"`
}

// StatePayload is the state channel's schema.
type StatePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// LogPayload is the log channel's schema.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ErrorPayload is the error channel's schema.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Stack     string `json:"stack,omitempty"`
}

// MetadataPayload is the metadata channel's schema: a free-form partial
// update of media fields (spec §4.C).
type MetadataPayload struct {
	VideoPath          *string  `json:"video_path,omitempty"`
	AudioOriginal      *string  `json:"audio_original,omitempty"`
	AudioDubbedPath    *string  `json:"audio_dubbed_path,omitempty"`
	AudioMixedPath     *string  `json:"audio_mixed_path,omitempty"`
	TempDir            *string  `json:"temp_dir,omitempty"`
	DurationSeconds    *float64 `json:"duration_seconds,omitempty"`
	Resolution         *string  `json:"resolution,omitempty"`
	FPS                *float64 `json:"fps,omitempty"`
	VideoCodec         *string  `json:"video_codec,omitempty"`
	AudioCodec         *string  `json:"audio_codec,omitempty"`
	FileSizeBytes      *int64   `json:"file_size_bytes,omitempty"`
	SourceID           *string  `json:"source_id,omitempty"`
	SourceTitle        *string  `json:"source_title,omitempty"`
	SourceUploader     *string  `json:"source_uploader,omitempty"`
	SourceUploadDate   *string  `json:"source_upload_date,omitempty"`
	SourceDescription  *string  `json:"source_description,omitempty"`
	SourceThumbnailURL *string  `json:"source_thumbnail_url,omitempty"`
}
