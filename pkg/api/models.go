package api

// DeviceOTAOptions is the capability payload returned by a device's $ota/options
// resource. Every field except Enabled may be absent.
type DeviceOTAOptions struct {
	Enabled     bool    `json:"enabled"`
	BlockSize   *int    `json:"block_size,omitempty"`
	Compression *string `json:"compression,omitempty"`
	Checksum    *string `json:"checksum,omitempty"`
	Version     *string `json:"version,omitempty"`
}

// ChunkSize returns the device block size, or def when the device did not report a
// usable one.
func (o *DeviceOTAOptions) ChunkSize(def int) int {
	if o.BlockSize == nil || *o.BlockSize <= 0 {
		return def
	}
	return *o.BlockSize
}

// CompressionScheme returns the requested compression tag or "".
func (o *DeviceOTAOptions) CompressionScheme() string {
	if o.Compression == nil {
		return ""
	}
	return *o.Compression
}

// ChecksumAlgorithm returns the requested checksum tag or "".
func (o *DeviceOTAOptions) ChecksumAlgorithm() string {
	if o.Checksum == nil {
		return ""
	}
	return *o.Checksum
}

// FirmwareVersion returns the installed firmware version or "".
func (o *DeviceOTAOptions) FirmwareVersion() string {
	if o.Version == nil {
		return ""
	}
	return *o.Version
}

// OTAOptions is the body of the $ota/begin request.
type OTAOptions struct {
	Firmware           string `json:"firmware"`
	Version            string `json:"version"`
	Size               int    `json:"size"`
	ChunkSize          int    `json:"chunk_size"`
	Checksum           string `json:"checksum,omitempty"`
	Compression        string `json:"compression,omitempty"`
	CompressedSize     int    `json:"compressed_size,omitempty"`
	CompressedChecksum string `json:"compressed_checksum,omitempty"`
}

// OTAResult is the acknowledgement returned by begin, write and end.
type OTAResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Device is an entry of the device listing.
type Device struct {
	Device      string      `json:"device"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Type        string      `json:"type,omitempty"`
	Product     string      `json:"product,omitempty"`
	Connection  *Connection `json:"connection,omitempty"`
}

// Connected reports whether the device currently holds a connection.
func (d Device) Connected() bool {
	return d.Connection != nil && d.Connection.Active
}

// Connection is the connection summary embedded in a device listing.
type Connection struct {
	Active bool `json:"active"`
}

// Product is an entry of the product listing.
type Product struct {
	Product     string `json:"product"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}
