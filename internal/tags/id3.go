package tags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// id3Magic opens every ID3v2 header.
const id3Magic = "ID3"

const id3HeaderLen = 10

// id3v2Len returns the full length of the ID3v2 tag described by header,
// or 0 when header is not an ID3v2 header.
func id3v2Len(header []byte) int64 {
	if len(header) < id3HeaderLen || !bytes.HasPrefix(header, []byte(id3Magic)) {
		return 0
	}
	// Synchsafe: 7 bits per byte. The size excludes the header and footer.
	n := int64(header[6]&0x7f)<<21 |
		int64(header[7]&0x7f)<<14 |
		int64(header[8]&0x7f)<<7 |
		int64(header[9]&0x7f)
	n += id3HeaderLen
	if header[5]&0x10 != 0 {
		n += id3HeaderLen
	}
	return n
}

// leadingID3Len reads the ID3v2 tag length at the start of path, 0 if none.
func leadingID3Len(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, id3HeaderLen)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, err
	}
	return id3v2Len(header), nil
}

// stripLeadingID3 drops the first n bytes of path, keeping its mode.
func stripLeadingID3(path string, n int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if int64(len(data)) <= n {
		return fmt.Errorf("ID3v2 tag length %d exceeds file size %d", n, len(data))
	}
	return os.WriteFile(path, data[n:], info.Mode().Perm())
}
