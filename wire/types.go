package wire

// Column type tags emitted by the worker. The worker reports the engine's
// own type names, so drivers must treat this list as open; tags not listed
// here pass through result decoding unchanged.
const (
	TypeUtf8           = "Utf8"
	TypeInt8           = "Int8"
	TypeInt16          = "Int16"
	TypeInt32          = "Int32"
	TypeInt64          = "Int64"
	TypeUInt8          = "UInt8"
	TypeUInt16         = "UInt16"
	TypeUInt32         = "UInt32"
	TypeUInt64         = "UInt64"
	TypeFloat32        = "Float32"
	TypeFloat64        = "Float64"
	TypeBoolean        = "Boolean"
	TypeBlob           = "Blob"
	TypeTimestampMicro = "Timestamp(Microsecond, None)"
)
