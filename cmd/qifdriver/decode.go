package main

import (
	"io"
	"os"
	"sort"

	"github.com/anhaoxiong/ls-qpack/qpack"
	"go.uber.org/zap"
)

type decodeOptions struct {
	capacity         uint64
	maxRiskedStreams int
	input            string
	output           string
}

// blockReader serves bytes for one header block out of a buffer already
// read off the wire, so a Blocked stream can be resumed later by simply
// handing the decoder the same closure again.
type blockReader struct {
	data   []byte
	offset int
}

func (b *blockReader) read(max int) []byte {
	if b.offset >= len(b.data) {
		return nil
	}
	end := b.offset + max
	if end > len(b.data) {
		end = len(b.data)
	}
	chunk := b.data[b.offset:end]
	b.offset = end
	return chunk
}

// runDecode drives a qpack.Decoder over the framed binary interop stream
// produced by runEncode (or another conformant encoder), writing decoded
// blocks back out as QIF text, resorted by stream ID since blocks may
// finish decoding out of order.
func runDecode(opts decodeOptions, logger *zap.Logger) error {
	in := io.Reader(os.Stdin)
	if opts.input != "" {
		f, err := os.Open(opts.input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	out := io.Writer(os.Stdout)
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return runDecodeFrom(opts, in, out, logger)
}

// runDecodeFrom is the core of runDecode with the input/output streams
// already resolved, letting roundtrip reuse it against an in-memory buffer.
func runDecodeFrom(opts decodeOptions, in io.Reader, out io.Writer, logger *zap.Logger) error {
	dec := qpack.NewDecoder(opts.capacity, opts.maxRiskedStreams)

	results := make(map[uint64][]qpack.HeaderField)
	pendingReaders := make(map[uint64]*blockReader)

	dec.DoneCB = func(streamID uint64, set *qpack.HeaderSet) {
		results[streamID] = append([]qpack.HeaderField{}, set.Fields...)
		set.Release()
		delete(pendingReaders, streamID)
		logger.Debug("decoded header block", zap.Uint64("stream", streamID), zap.Int("fields", len(set.Fields)))
	}
	dec.WantReadCB = func(streamID uint64, enabled bool) {
		if !enabled {
			return
		}
		br, ok := pendingReaders[streamID]
		if !ok {
			return
		}
		if err := dec.HeaderRead(streamID, br.read); err != nil {
			logger.Error("resume header block failed", zap.Uint64("stream", streamID), zap.Error(err))
		}
	}

	fr := newFrameReader(in)
	for {
		streamID, payload, err := fr.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if streamID == 0 {
			if err := dec.EncStreamIn(payload); err != nil {
				return err
			}
			continue
		}

		br := &blockReader{data: payload}
		pendingReaders[streamID] = br
		if err := dec.HeaderIn(streamID, len(payload), br.read); err != nil {
			return err
		}
	}

	ids := make([]uint64, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := writeHeaderBlock(out, results[id]); err != nil {
			return err
		}
	}
	return nil
}
