package types

import "time"

// CameraInfo is the base record for a managed camera device. SerialNumber
// is unique within one device database.
type CameraInfo struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	ConnectionType string    `json:"connection_type"`
	SerialNumber   string    `json:"serial_number"`
	Manufacturer   string    `json:"manufacturer"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate reports whether the record carries the required fields.
func (c CameraInfo) Validate() error {
	if c.Name == "" || c.SerialNumber == "" {
		return ErrInvalidData
	}
	return nil
}

// CameraConfig holds the acquisition parameters for one camera.
type CameraConfig struct {
	ID                    int64     `json:"id"`
	CameraID              int64     `json:"camera_id"`
	Resolution            string    `json:"resolution"`
	FrameRate             float64   `json:"frame_rate"`
	ExposureRange         string    `json:"exposure_range"`
	GainRange             string    `json:"gain_range"`
	AcquisitionStrategy   string    `json:"acquisition_strategy"`
	SupportedImagingModes string    `json:"supported_imaging_modes"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Validate reports whether the config references a camera and a resolution.
func (c CameraConfig) Validate() error {
	if c.CameraID <= 0 || c.Resolution == "" {
		return ErrInvalidData
	}
	return nil
}

// CameraStatus is the last observed runtime state of one camera.
type CameraStatus struct {
	ID               int64     `json:"id"`
	CameraID         int64     `json:"camera_id"`
	CurrentFrameRate float64   `json:"current_frame_rate"`
	CurrentGain      float64   `json:"current_gain"`
	CurrentExposure  float64   `json:"current_exposure"`
	AutoExposure     bool      `json:"auto_exposure"`
	AutoGain         bool      `json:"auto_gain"`
	Online           bool      `json:"online"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate reports whether the status references a camera.
func (s CameraStatus) Validate() error {
	if s.CameraID <= 0 {
		return ErrInvalidData
	}
	return nil
}

// IsOnline reports whether the camera is online and has heartbeated within
// the given window.
func (s CameraStatus) IsOnline(window time.Duration) bool {
	if !s.Online {
		return false
	}
	return time.Since(s.LastHeartbeat) <= window
}

// PageParams selects one page of an ordered listing.
type PageParams struct {
	PageIndex int    `json:"page_index"` // 1-based
	PageSize  int    `json:"page_size"`
	OrderBy   string `json:"order_by"`
	Ascending bool   `json:"ascending"`
}

// Offset returns the SQL OFFSET for the page.
func (p PageParams) Offset() int {
	if p.PageIndex < 1 {
		return 0
	}
	return (p.PageIndex - 1) * p.PageSize
}

// PageResult is one page of records plus the total row count.
type PageResult[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
}
