package remote

import "github.com/klauspost/compress/zstd"

// zstdCompress encodes data at level 1, matching the outbound-blob
// compression level spec.md §4.3 mandates. klauspost/compress is used here
// instead of DataDog/zstd (the output-archiver's choice) because the gRPC
// path streams small in-memory blobs rather than files, where klauspost's
// pure-Go encoder avoids a cgo dependency on the hot RPC path.
func zstdCompress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}
