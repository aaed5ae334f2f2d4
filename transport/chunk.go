package transport

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/DataDog/zstd"
	"github.com/nocdem/dna-messenger-sub001/crypto"
	"github.com/nocdem/dna-messenger-sub001/limits"
	"github.com/sirupsen/logrus"
)

const (
	chunkMagic      = "DNAC"
	chunkVersion    = 2
	chunk0HeaderLen = 57 // magic(4) version(1) total_chunks(4) index(4) payload_size(4) original_size(4) crc32(4) hash(32)
	chunkNHeaderLen = 25 // magic(4) version(1) total_chunks(4) index(4) payload_size(4) original_size(4) crc32(4)
)

// ChunkKey derives the key for chunk i of a logical value stored under
// baseKey, per §4.3: SHA3-512(base_key || ":chunk:" || i)[:32].
func ChunkKey(baseKey string, i uint32) [32]byte {
	input := fmt.Sprintf("%s:chunk:%d", baseKey, i)
	full := crypto.Hash512([]byte(input))
	var out [32]byte
	copy(out[:], full[:32])
	return out
}

// SplitValue compresses value with ZSTD and splits it into fixed-size
// chunks, each prefixed with a v2 header. Chunk 0 additionally carries
// the SHA3-256 content hash of the uncompressed value, enabling the
// fetch-by-hash shortcut described in §4.3 / S6.
func SplitValue(value []byte) ([][]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "SplitValue",
		"package":  "transport",
	})
	logger.Debug("Function entry: splitting value into chunks")
	defer logger.Debug("Function exit: SplitValue")

	compressed, err := zstd.Compress(nil, value)
	if err != nil {
		return nil, newError("SplitValue", KindSerialize, err)
	}

	contentHash := crypto.Hash256(value)
	originalSize := uint32(len(value))

	numChunks := (len(compressed) + limits.ChunkPayloadSize - 1) / limits.ChunkPayloadSize
	if numChunks == 0 {
		numChunks = 1
	}
	if err := limits.ValidateChunkTotal(uint32(numChunks)); err != nil {
		return nil, newError("SplitValue", KindSerialize, err)
	}

	chunks := make([][]byte, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * limits.ChunkPayloadSize
		end := start + limits.ChunkPayloadSize
		if end > len(compressed) {
			end = len(compressed)
		}
		payload := compressed[start:end]
		crc := crc32.ChecksumIEEE(payload)

		headerLen := chunkNHeaderLen
		if i == 0 {
			headerLen = chunk0HeaderLen
		}
		buf := make([]byte, headerLen+len(payload))
		copy(buf[0:4], chunkMagic)
		buf[4] = chunkVersion
		binary.BigEndian.PutUint32(buf[5:9], uint32(numChunks))
		binary.BigEndian.PutUint32(buf[9:13], uint32(i))
		binary.BigEndian.PutUint32(buf[13:17], uint32(len(payload)))
		binary.BigEndian.PutUint32(buf[17:21], originalSize)
		binary.BigEndian.PutUint32(buf[21:25], crc)
		if i == 0 {
			copy(buf[25:57], contentHash[:])
		}
		copy(buf[headerLen:], payload)
		chunks[i] = buf
	}

	return chunks, nil
}

// Chunk0Header is the parsed header of the first chunk of a chunked
// value, including the fields only chunk 0 carries.
type Chunk0Header struct {
	TotalChunks  uint32
	PayloadSize  uint32
	OriginalSize uint32
	CRC32        uint32
	ContentHash  [32]byte
}

// ParseChunk0Header parses and validates the header of chunk 0, without
// touching its payload. Callers use this to short-circuit a fetch when
// the content hash matches a locally cached one.
func ParseChunk0Header(chunk0 []byte) (Chunk0Header, error) {
	var h Chunk0Header
	if len(chunk0) < chunk0HeaderLen {
		return h, newError("ParseChunk0Header", KindSerialize, fmt.Errorf("chunk 0 truncated"))
	}
	if string(chunk0[0:4]) != chunkMagic {
		return h, newError("ParseChunk0Header", KindSerialize, fmt.Errorf("bad chunk magic"))
	}
	if chunk0[4] != chunkVersion {
		return h, newError("ParseChunk0Header", KindSerialize, fmt.Errorf("unsupported chunk version %d", chunk0[4]))
	}
	h.TotalChunks = binary.BigEndian.Uint32(chunk0[5:9])
	if err := limits.ValidateChunkTotal(h.TotalChunks); err != nil {
		return h, newError("ParseChunk0Header", KindSerialize, err)
	}
	h.PayloadSize = binary.BigEndian.Uint32(chunk0[13:17])
	h.OriginalSize = binary.BigEndian.Uint32(chunk0[17:21])
	h.CRC32 = binary.BigEndian.Uint32(chunk0[21:25])
	copy(h.ContentHash[:], chunk0[25:57])
	return h, nil
}

// ReassembleValue verifies and decompresses a complete ordered slice of
// chunks (chunk 0 first), checking every chunk's CRC32 and the overall
// SHA3-256 content hash against chunk 0's declared values.
func ReassembleValue(chunks [][]byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "ReassembleValue",
		"package":  "transport",
	})
	logger.Debug("Function entry: reassembling chunked value")
	defer logger.Debug("Function exit: ReassembleValue")

	if len(chunks) == 0 {
		return nil, newError("ReassembleValue", KindSerialize, fmt.Errorf("no chunks"))
	}

	header, err := ParseChunk0Header(chunks[0])
	if err != nil {
		return nil, err
	}
	if int(header.TotalChunks) != len(chunks) {
		return nil, newError("ReassembleValue", KindSerialize, fmt.Errorf("expected %d chunks, got %d", header.TotalChunks, len(chunks)))
	}

	compressed := make([]byte, 0, header.PayloadSize)
	for i, chunk := range chunks {
		headerLen := chunkNHeaderLen
		if i == 0 {
			headerLen = chunk0HeaderLen
		}
		if len(chunk) < headerLen {
			return nil, newError("ReassembleValue", KindSerialize, fmt.Errorf("chunk %d truncated", i))
		}
		if string(chunk[0:4]) != chunkMagic {
			return nil, newError("ReassembleValue", KindSerialize, fmt.Errorf("chunk %d bad magic", i))
		}
		idx := binary.BigEndian.Uint32(chunk[9:13])
		if idx != uint32(i) {
			return nil, newError("ReassembleValue", KindSerialize, fmt.Errorf("chunk %d out of order: index %d", i, idx))
		}
		payloadSize := binary.BigEndian.Uint32(chunk[13:17])
		crc := binary.BigEndian.Uint32(chunk[21:25])
		payload := chunk[headerLen:]
		if uint32(len(payload)) != payloadSize {
			return nil, newError("ReassembleValue", KindSerialize, fmt.Errorf("chunk %d payload size mismatch", i))
		}
		if crc32.ChecksumIEEE(payload) != crc {
			return nil, newError("ReassembleValue", KindSerialize, fmt.Errorf("chunk %d CRC mismatch", i))
		}
		compressed = append(compressed, payload...)
	}

	value, err := zstd.Decompress(nil, compressed)
	if err != nil {
		return nil, newError("ReassembleValue", KindSerialize, err)
	}
	if uint32(len(value)) != header.OriginalSize {
		return nil, newError("ReassembleValue", KindSerialize, fmt.Errorf("decompressed size mismatch"))
	}
	if crypto.Hash256(value) != header.ContentHash {
		return nil, newError("ReassembleValue", KindSerialize, fmt.Errorf("content hash mismatch"))
	}

	return value, nil
}
