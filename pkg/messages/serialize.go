package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

func SerializePeerState(m *PeerState) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize peer state: %v", err)
	}

	compressed := bytes.NewBuffer(nil)
	compWriter, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %v", err)
	}
	if _, err := compWriter.Write(b); err != nil {
		return nil, fmt.Errorf("failed to compress peer state: %v", err)
	}
	if err := compWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %v", err)
	}

	return compressed.Bytes(), nil
}

func DeserializePeerState(data []byte) (*PeerState, error) {
	compReader, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderMaxMemory(MessageBufferSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer compReader.Close()

	b, err := io.ReadAll(io.LimitReader(compReader, MessageBufferSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read decompressed peer state: %v", err)
	}
	if len(b) > MessageBufferSize {
		return nil, fmt.Errorf("peer state exceeds %d bytes", MessageBufferSize)
	}

	m := &PeerState{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("failed to deserialize peer state: %v", err)
	}
	if m.PlayerID == "" {
		return nil, fmt.Errorf("peer state has no player id")
	}
	return m, nil
}
