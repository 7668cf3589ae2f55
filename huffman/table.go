package huffman

// codeLengths holds the bit length of each symbol's canonical Huffman code,
// symbols 0-255 plus EOS at index 256, per the static Huffman code HPACK
// defines (RFC 7541 Appendix B) and QPACK reuses unmodified.
//
// The codes themselves (huffmanCodes, built by buildCodes) are derived from these
// lengths by the standard canonical-Huffman assignment: sort by (length,
// symbol), then assign sequentially increasing code values, left-shifting
// whenever length increases. That is what makes the table "canonical" --
// only the length per symbol needs to be recorded here.
var codeLengths = [257]uint8{
	13, 23, 28, 28, 28, 28, 28, 28, 28, 24, 30, 28, 28, 30, 28, 28,
	28, 28, 28, 28, 28, 28, 30, 28, 28, 28, 28, 28, 28, 28, 28, 28,
	6, 10, 10, 12, 13, 6, 8, 11, 10, 10, 8, 11, 8, 6, 6, 6,
	5, 5, 5, 6, 6, 6, 6, 6, 6, 6, 7, 8, 15, 6, 12, 10,
	13, 6, 7, 7, 7, 7, 7, 6, 7, 6, 7, 7, 7, 7, 7, 6,
	7, 6, 6, 6, 6, 7, 7, 6, 7, 7, 7, 7, 7, 7, 7, 7,
	8, 7, 8, 13, 19, 13, 14, 6, 15, 5, 6, 5, 6, 5, 6, 6,
	6, 5, 6, 6, 6, 6, 7, 7, 6, 6, 6, 14, 7, 15, 15, 13,
	15, 11, 14, 13, 28, 20, 22, 20, 20, 20, 22, 22, 22, 23, 22, 23,
	23, 23, 23, 21, 22, 14, 23, 24, 22, 21, 21, 22, 25, 21, 23, 22,
	21, 22, 22, 23, 22, 21, 22, 22, 24, 22, 22, 20, 25, 30, 24, 23,
	28, 23, 23, 22, 23, 21, 23, 23, 20, 22, 21, 21, 23, 22, 22, 25,
	28, 28, 29, 28, 28, 28, 29, 28, 28, 29, 28, 28, 28, 28, 28, 28,
	21, 29, 28, 28, 29, 30, 30, 29, 29, 28, 28, 29, 30, 29, 29, 29,
	29, 29, 29, 29, 29, 29, 29, 27, 30, 30, 30, 30, 30, 30, 30, 30,
	30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30,
	30, // EOS (symbol 256)
}

// eosSymbol is the pseudo-symbol (index 256) marking end-of-stream; it must
// never be decoded as an emitted byte, only ever appear as trailing padding.
const eosSymbol = 256

var huffmanCodes = buildCodes()

func buildCodes() (codes [257]uint32) {
	type row struct {
		symbol int
		length uint8
	}
	rows := make([]row, 257)
	for i := range codeLengths {
		rows[i] = row{i, codeLengths[i]}
	}
	// Stable insertion sort by (length, symbol): 257 entries, not worth
	// pulling in sort.Slice for a one-time package init.
	for i := 1; i < len(rows); i++ {
		j := i
		for j > 0 && (rows[j-1].length > rows[j].length ||
			(rows[j-1].length == rows[j].length && rows[j-1].symbol > rows[j].symbol)) {
			rows[j-1], rows[j] = rows[j], rows[j-1]
			j--
		}
	}

	var code uint32
	prevLen := rows[0].length
	for _, r := range rows {
		code <<= r.length - prevLen
		codes[r.symbol] = code
		code++
		prevLen = r.length
	}
	return codes
}
