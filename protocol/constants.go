package protocol

// Reply type markers (first byte of every reply)
const (
	MarkerStatus  byte = '+'
	MarkerError   byte = '-'
	MarkerInteger byte = ':'
	MarkerBulk    byte = '$'
	MarkerArray   byte = '*'
)

// Wire format constants
const (
	CRLF = "\r\n"

	// NullLength is the length announced by a nil bulk string or a nil array.
	NullLength = -1
)

// Protocol limits
const (
	// MaxBulkLength is the largest bulk string the server accepts (512MB).
	MaxBulkLength = 512 * 1024 * 1024

	// MaxArrayLength bounds the element count accepted in one array header.
	MaxArrayLength = 1<<31 - 1
)

// Default endpoint values
const (
	DefaultHost    = "localhost"
	DefaultPort    = 6379
	DefaultTLSPort = 6380
)
