package downloader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const tsPacketSize = 188

var errInvalidTransportStream = errors.New("invalid transport stream header")

// fallbackOutputPath is where raw concatenation lands: the requested path if
// it already names a .ts file, otherwise the path with .ts appended.
func fallbackOutputPath(output string) string {
	if strings.HasSuffix(strings.ToLower(output), ".ts") {
		return output
	}
	return output + ".ts"
}

// validateMPEGTS checks the sync byte of the first two packets.
func validateMPEGTS(path string) error {
	header, err := readHeader(path, tsPacketSize+1)
	if err != nil {
		return fmt.Errorf("read ts header: %w", err)
	}
	if len(header) < 1 || header[0] != 0x47 {
		return errInvalidTransportStream
	}
	if len(header) > tsPacketSize && header[tsPacketSize] != 0x47 {
		return fmt.Errorf("%w: lost sync at packet 2", errInvalidTransportStream)
	}
	return nil
}

func readHeader(path string, size int) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	buf := make([]byte, size)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}
