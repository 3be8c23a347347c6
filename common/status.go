package common

//go:generate go run github.com/dmarkham/enumer -json -type Status -trimprefix Status

// Status of the download of a product
type Status int

const (
	StatusPENDING Status = iota
	StatusDONE
	StatusFAILED
)
