package main

import (
	"io"
	"os"

	"github.com/anhaoxiong/ls-qpack/qpack"
	"go.uber.org/zap"
)

type encodeOptions struct {
	capacity         uint64
	maxRiskedStreams int
	acknowledge      bool
	input            string
	output           string
}

// runEncode drives a qpack.Encoder over a QIF text file, writing the
// framed encoder-stream and header-block bytes to the binary interop
// format.
func runEncode(opts encodeOptions, logger *zap.Logger) error {
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
	return runEncodeTo(opts, in, out, logger)
}

// runEncodeTo is the core of runEncode with the input/output streams
// already resolved, so roundtrip can chain it to an in-memory buffer
// without touching the filesystem.
func runEncodeTo(opts encodeOptions, in io.Reader, out io.Writer, logger *zap.Logger) error {
	enc := qpack.NewEncoder(opts.capacity, opts.maxRiskedStreams)
	fw := newFrameWriter(out)
	qr := newQIFReader(in)

	var streamID uint64
	for {
		block, err := qr.ReadHeaderBlock()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		streamID++
		if err := enc.StartHeader(streamID, 0); err != nil {
			return err
		}

		encBuf := make([]byte, 0, 4096)
		headBuf := make([]byte, 0, 4096)
		for _, hf := range block {
			var flags qpack.Flags
			if hf.NeverIndex {
				flags = qpack.NoIndex
			}
			var status qpack.Status
			encBuf, headBuf, status = enc.Encode(encBuf, headBuf, hf.Name, hf.Value, flags)
			if status != qpack.OK {
				return qpack.ErrBadInstruction
			}
			logger.Debug("encoded field", zap.String("name", hf.Name), zap.String("value", hf.Value))
		}

		prefix, _ := enc.EndHeader(make([]byte, 0, 16))
		headerBlock := append(append([]byte{}, prefix...), headBuf...)

		if err := fw.WriteFrame(0, encBuf); err != nil {
			return err
		}
		if err := fw.WriteFrame(streamID, headerBlock); err != nil {
			return err
		}

		logger.Info("wrote header block",
			zap.Uint64("stream", streamID),
			zap.Int("bytes", len(headerBlock)),
		)

		if opts.acknowledge {
			if err := enc.HandleHeaderAck(streamID); err != nil {
				return err
			}
		}
	}
}
