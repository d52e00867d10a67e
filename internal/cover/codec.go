package cover

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"sort"
)

// DefaultCodec is the stdlib-only Resize/Encode implementation described in
// DESIGN.md: a box-filter downscale and a minimal WebP lossless (VP8L)
// encoder covering the no-transform, no-color-cache, single-Huffman-group
// path of the format. It exists so Process never depends on an image codec
// library that appears nowhere in the retrieved pack; callers with a real
// libwebp binding can supply their own Codec via WithCodec.
type DefaultCodec struct{}

func NewDefaultCodec() *DefaultCodec { return &DefaultCodec{} }

// Resize scales img down to fit within maxW x maxH, preserving aspect
// ratio. It never upscales: if img already fits, it is returned unchanged.
func (DefaultCodec) Resize(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	dstW := int(float64(w) * scale)
	dstH := int(float64(h) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		srcY := b.Min.Y + y*h/dstH
		for x := 0; x < dstW; x++ {
			srcX := b.Min.X + x*w/dstW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// Encode serializes img as a WebP lossless (VP8L) image and returns it
// with its content type.
func (DefaultCodec) Encode(img image.Image) ([]byte, string, error) {
	payload, err := encodeVP8L(img)
	if err != nil {
		return nil, "", err
	}
	return wrapRIFF("VP8L", payload), "image/webp", nil
}

func wrapRIFF(fourCC string, payload []byte) []byte {
	padded := payload
	if len(padded)%2 == 1 {
		padded = append(padded, 0)
	}
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(4+8+len(padded))) // "WEBP" + chunk header + data
	buf.WriteString("WEBP")
	buf.WriteString(fourCC)
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(padded)
	return buf.Bytes()
}

// bitWriter packs bits LSB-first into a byte buffer, matching VP8L's raw
// bit-field convention.
type bitWriter struct {
	buf     []byte
	cur     uint32
	nbits   uint
}

func (w *bitWriter) writeBits(value uint32, n int) {
	w.cur |= (value & ((1 << uint(n)) - 1)) << w.nbits
	w.nbits += uint(n)
	for w.nbits >= 8 {
		w.buf = append(w.buf, byte(w.cur))
		w.cur >>= 8
		w.nbits -= 8
	}
}

// writeHuffmanCode writes a prefix code's bits most-significant-bit first,
// per VP8L's convention for Huffman-coded (as opposed to raw) fields.
func (w *bitWriter) writeHuffmanCode(code uint32, length int) {
	for i := length - 1; i >= 0; i-- {
		w.writeBits((code>>uint(i))&1, 1)
	}
}

func (w *bitWriter) bytes() []byte {
	out := w.buf
	if w.nbits > 0 {
		out = append(out, byte(w.cur))
	}
	return out
}

// huffmanTree is a canonical prefix code built from symbol frequencies.
type huffmanTree struct {
	lengths []int
	codes   []uint32
}

func buildHuffman(freq []int) *huffmanTree {
	type node struct {
		freq     int
		symbol   int // -1 for internal nodes
		children [2]*node
	}
	var leaves []*node
	for sym, f := range freq {
		if f > 0 {
			leaves = append(leaves, &node{freq: f, symbol: sym})
		}
	}

	lengths := make([]int, len(freq))
	if len(leaves) == 0 {
		return &huffmanTree{lengths: lengths, codes: make([]uint32, len(freq))}
	}
	if len(leaves) == 1 {
		lengths[leaves[0].symbol] = 0 // single-symbol code: implicit, costs no bits.
		return &huffmanTree{lengths: lengths, codes: make([]uint32, len(freq))}
	}

	nodes := make([]*node, len(leaves))
	copy(nodes, leaves)
	for len(nodes) > 1 {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].freq < nodes[j].freq })
		a, b := nodes[0], nodes[1]
		parent := &node{freq: a.freq + b.freq, symbol: -1, children: [2]*node{a, b}}
		nodes = append(nodes[2:], parent)
	}

	var depth func(n *node, d int)
	depth = func(n *node, d int) {
		if n.symbol >= 0 {
			if d == 0 {
				d = 1 // two-leaf trees still need 1 bit per symbol.
			}
			if d > 15 {
				d = 15 // length-limit clamp; acceptable for our bounded alphabets.
			}
			lengths[n.symbol] = d
			return
		}
		depth(n.children[0], d+1)
		depth(n.children[1], d+1)
	}
	depth(nodes[0], 0)

	return &huffmanTree{lengths: lengths, codes: canonicalCodes(lengths)}
}

// canonicalCodes assigns canonical Huffman codewords from a set of code
// lengths, per RFC 1951 §3.2.2 (the same convention VP8L uses).
func canonicalCodes(lengths []int) []uint32 {
	maxLen := 0
	for _, l := range lengths {
		if l > maxLen {
			maxLen = l
		}
	}
	if maxLen == 0 {
		return make([]uint32, len(lengths))
	}

	blCount := make([]int, maxLen+1)
	for _, l := range lengths {
		if l > 0 {
			blCount[l]++
		}
	}
	code := 0
	nextCode := make([]int, maxLen+1)
	for bits := 1; bits <= maxLen; bits++ {
		code = (code + blCount[bits-1]) << 1
		nextCode[bits] = code
	}

	codes := make([]uint32, len(lengths))
	for sym, l := range lengths {
		if l > 0 {
			codes[sym] = uint32(nextCode[l])
			nextCode[l]++
		}
	}
	return codes
}

// codeLengthCodeOrder is VP8L's fixed transmission order for the 19-symbol
// code-length alphabet (kCodeLengthCodeOrder in the reference encoder).
var codeLengthCodeOrder = [19]int{17, 18, 0, 1, 2, 3, 4, 5, 16, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

// writeHuffmanGroup writes one Huffman code's definition followed
// immediately by nothing (callers interleave symbol emission themselves);
// it always uses the "normal" code-length-code path with all 19 symbols
// transmitted raw (no run-length symbols 16-18), which trades a few bits
// of redundancy for a much simpler, still-conforming implementation.
func writeHuffmanGroup(w *bitWriter, tree *huffmanTree) {
	if onlySymbol, ok := trivialSymbol(tree.lengths); ok {
		w.writeBits(1, 1)    // simple code length code
		w.writeBits(0, 1)    // num_symbols-1 == 0 -> 1 symbol
		w.writeBits(1, 1)    // is_first_8bits
		w.writeBits(uint32(onlySymbol), 8)
		return
	}

	w.writeBits(0, 1) // normal code length code

	clFreq := make([]int, 19)
	for _, l := range tree.lengths {
		clFreq[l]++
	}
	clTree := buildHuffman(clFreq)
	clLengths := make([]int, 19)
	copy(clLengths, clTree.lengths)

	w.writeBits(19-4, 4) // num_code_lengths - 4 == 15 -> transmit all 19 entries
	for _, sym := range codeLengthCodeOrder {
		w.writeBits(uint32(clLengths[sym]), 3)
	}

	w.writeBits(0, 1) // max_symbol not trimmed

	clCodes := canonicalCodes(clLengths)
	for _, l := range tree.lengths {
		w.writeHuffmanCode(clCodes[l], clLengths[l])
	}
}

// trivialSymbol reports the sole nonzero-frequency symbol when a tree
// degenerates to exactly one leaf (VP8L's "simple code length code" case).
func trivialSymbol(lengths []int) (int, bool) {
	sym, count := -1, 0
	for s, l := range lengths {
		if l == 0 {
			continue
		}
		sym = s
		count++
	}
	if count == 1 {
		return sym, true
	}
	return 0, false
}

func emitSymbol(w *bitWriter, tree *huffmanTree, symbol int) {
	if len(tree.codes) == 0 {
		return
	}
	w.writeHuffmanCode(tree.codes[symbol], tree.lengths[symbol])
}

const (
	greenAlphabetSize = 256 + 24 // literals + backward-reference length codes (unused here)
	distanceAlphabetSize = 40
)

var errEmptyImage = errors.New("cover: cannot encode an empty image")

// encodeVP8L writes img's pixels as a VP8L bitstream with no predictor/
// color transforms and no color cache: every pixel is four independent
// Huffman-coded literals (green, red, blue, alpha).
func encodeVP8L(img image.Image) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errEmptyImage
	}

	greenFreq := make([]int, greenAlphabetSize)
	redFreq := make([]int, 256)
	blueFreq := make([]int, 256)
	alphaFreq := make([]int, 256)

	type px struct{ r, g, bl, a uint8 }
	pixels := make([]px, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r16, g16, b16, a16 := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			c := color.NRGBAModel.Convert(color.RGBA64{R: uint16(r16), G: uint16(g16), B: uint16(b16), A: uint16(a16)}).(color.NRGBA)
			pixels = append(pixels, px{r: c.R, g: c.G, bl: c.B, a: c.A})
			greenFreq[c.G]++
			redFreq[c.R]++
			blueFreq[c.B]++
			alphaFreq[c.A]++
		}
	}

	greenTree := buildHuffman(greenFreq)
	redTree := buildHuffman(redFreq)
	blueTree := buildHuffman(blueFreq)
	alphaTree := buildHuffman(alphaFreq)
	distFreq := make([]int, distanceAlphabetSize)
	distFreq[0] = 1 // never referenced; keeps the tree well-formed.
	distTree := buildHuffman(distFreq)

	bw := &bitWriter{}
	bw.writeBits(0x2f, 8)          // VP8L signature
	bw.writeBits(uint32(w-1), 14)
	bw.writeBits(uint32(h-1), 14)
	bw.writeBits(1, 1) // alpha_is_used
	bw.writeBits(0, 3) // version_number

	bw.writeBits(0, 1) // no transforms
	bw.writeBits(0, 1) // no color cache
	bw.writeBits(0, 1) // no meta-Huffman image (single group)

	writeHuffmanGroup(bw, greenTree)
	writeHuffmanGroup(bw, redTree)
	writeHuffmanGroup(bw, blueTree)
	writeHuffmanGroup(bw, alphaTree)
	writeHuffmanGroup(bw, distTree)

	for _, p := range pixels {
		emitSymbol(bw, greenTree, int(p.g))
		emitSymbol(bw, redTree, int(p.r))
		emitSymbol(bw, blueTree, int(p.bl))
		emitSymbol(bw, alphaTree, int(p.a))
	}

	return bw.bytes(), nil
}
