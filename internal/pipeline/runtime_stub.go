//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newDecoder() Decoder {
	return stdlibDecoder{}
}

// Backend names the active decoder for logs.
func Backend() string {
	return "stdlib"
}
