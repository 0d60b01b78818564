package gifenc

// Animated GIF89a stream assembler.
// API: NewEncoder(), Set* knobs, Start/AddFrame/Finish, Bytes().

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
)

const (
	headerGIF89a = "GIF89a"

	defaultWidth  = 320
	defaultHeight = 240

	maxColors  = 256
	colorDepth = 8 // minimum LZW code size handed to the compressor

	// SetFrameRate ignores this value; it is reserved as a no-op for
	// callers that pass a delay code where a rate is expected.
	reservedFrameRate = 0xF01
)

// Session states. Started is further refined by the firstFrame flag:
// the global structures are emitted together with the first frame only.
type sessionState uint8

const (
	stateUnstarted sessionState = iota
	stateStarted
	stateFinished
)

var (
	// sequence errors: operation is invalid for the current state
	ErrNotStarted     = errors.New("gifenc: session not started")
	ErrAlreadyStarted = errors.New("gifenc: session already started")
	ErrNilSource      = errors.New("gifenc: nil frame source")

	// configuration errors
	ErrCommentTooLong = errors.New("gifenc: comment longer than 255 bytes")
	ErrSizeUnknown    = errors.New("gifenc: frame size not configured")
	ErrBadBuffer      = errors.New("gifenc: buffer length mismatch")
)

// Encoder assembles an animated GIF89a byte stream frame by frame: one
// Encoder is one animation session. It is not safe for concurrent use; all
// state is instance-local with no internal locking. Per-frame scratch
// buffers are reused across AddFrame calls.
type Encoder struct {
	width   int
	height  int
	sizeSet bool

	state      sessionState
	firstFrame bool

	// Persistent configuration: survives Start/Continue.
	delay      int // centiseconds
	dispose    int // -1 = no override, per-frame default applies
	repeat     int // -1 = no loop extension, 0 = infinite
	transColor color.RGBA
	transSet   bool
	comment    string
	sample     int // quantizer sampling factor, >= 1

	// Per-frame scratch, rebuilt every AddFrame and discarded after use.
	pixels        []byte // interleaved RGB of the active frame
	indexedPixels []byte
	colorTab      []byte // flat RGB triples, at most maxColors entries
	usedEntry     [maxColors]bool
	palSize       int // table size bits, minus one
	transIndex    int

	out   *ByteStream
	quant Quantizer
	comp  Compressor
}

// NewEncoder returns an Encoder with the default collaborators (NeuQuant
// quantizer, LZW compressor) and default configuration: no delay, no
// disposal override, no looping, no transparency, empty comment, sampling
// factor 10.
func NewEncoder() *Encoder {
	return &Encoder{
		dispose: -1,
		repeat:  -1,
		sample:  10,
		out:     NewByteStream(),
		quant:   NewNeuQuant(),
		comp:    LZW{},
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// SetDelay sets the wait between frames in milliseconds, stored rounded to
// centiseconds. Takes effect for frames written from this call forward.
func (e *Encoder) SetDelay(ms int) {
	e.delay = int(math.Round(float64(ms) / 10.0))
}

// SetFrameRate sets the delay from a frame rate. Equivalent to
// SetDelay(1000/fps), except that the reserved value 0xF01 is ignored.
func (e *Encoder) SetFrameRate(fps float64) {
	if fps == reservedFrameRate {
		return
	}
	e.delay = int(math.Round(100.0 / fps))
}

// SetDispose overrides the frame disposal method. Codes outside 0..7 are
// masked; negative codes mean "no override": the per-frame default applies
// (0 without transparency, 2 with).
func (e *Encoder) SetDispose(code int) {
	if code >= 0 {
		e.dispose = code
	}
}

// SetRepeat requests the looping extension: 0 repeats forever, n > 0
// repeats n times. Must be called before the first frame is written, the
// extension is only emitted alongside the global structures. Negative
// values are ignored.
func (e *Encoder) SetRepeat(n int) {
	if n >= 0 {
		e.repeat = n
	}
}

// SetTransparent declares a 24-bit RGB color to render as transparent.
// Alpha is ignored. Each frame remaps the color to the nearest used slot of
// that frame's palette.
func (e *Encoder) SetTransparent(c color.RGBA) {
	e.transColor = c
	e.transSet = true
}

// ClearTransparent removes the transparent color.
func (e *Encoder) ClearTransparent() {
	e.transSet = false
}

// SetComment sets the stream comment. The Comment Extension is emitted for
// every frame while the comment is non-empty; the block size field is a
// single byte, longer comments are rejected.
func (e *Encoder) SetComment(s string) error {
	if len(s) > 255 {
		return fmt.Errorf("setComment: %d bytes: %w", len(s), ErrCommentTooLong)
	}
	e.comment = s
	return nil
}

// SetQuality sets the quantizer sampling factor, clamped up to 1.
// Lower values mean finer and slower quantization.
func (e *Encoder) SetQuality(q int) {
	e.sample = clampSample(q)
}

// SetSize fixes the canvas size. Effective only until the first frame has
// been written; after that the size is immutable for the session.
// Non-positive dimensions fall back to 320×240.
func (e *Encoder) SetSize(w, h int) {
	if e.state == stateStarted && !e.firstFrame {
		return
	}
	if w < 1 {
		w = defaultWidth
	}
	if h < 1 {
		h = defaultHeight
	}
	e.width = w
	e.height = h
	e.sizeSet = true
}

// SetQuantizer swaps the palette quantizer. Nil is ignored.
func (e *Encoder) SetQuantizer(q Quantizer) {
	if q != nil {
		e.quant = q
	}
}

// SetCompressor swaps the raster compressor. Nil is ignored.
func (e *Encoder) SetCompressor(c Compressor) {
	if c != nil {
		e.comp = c
	}
}

// -----------------------------------------------------------------------------
// Session lifecycle
// -----------------------------------------------------------------------------

// Start begins a new session: transient state and the sink are reset and
// the fixed six-byte signature is written. Starting over a still-open
// session is rejected; starting after Finish begins a fresh stream (the
// only sanctioned truncation of the sink).
func (e *Encoder) Start() error {
	if e.state == stateStarted {
		return fmt.Errorf("start: %w", ErrAlreadyStarted)
	}
	e.reset()
	e.out.Reset()
	e.state = stateStarted
	if err := e.out.WriteString(headerGIF89a); err != nil {
		return fmt.Errorf("start: write signature: %w", err)
	}
	return nil
}

// Continue is Start without the signature: an entry point for producing a
// headerless frame sequence the caller splices after a header written
// elsewhere. The transient reset still happens.
func (e *Encoder) Continue() error {
	if e.state == stateStarted {
		return fmt.Errorf("continue: %w", ErrAlreadyStarted)
	}
	e.reset()
	e.out.Reset()
	e.state = stateStarted
	return nil
}

// reset clears transient per-session state. Persistent configuration —
// delay, dispose, repeat, transparent color, comment, quality, size —
// survives untouched.
func (e *Encoder) reset() {
	e.transIndex = 0
	e.pixels = e.pixels[:0]
	e.indexedPixels = nil
	e.colorTab = nil
	e.usedEntry = [maxColors]bool{}
	e.firstFrame = true
}

// AddFrame encodes one frame from an image. On the very first frame the
// canvas size is derived from the image bounds unless SetSize fixed it
// earlier. Frames must match the canvas size exactly.
func (e *Encoder) AddFrame(img image.Image) error {
	if e.state != stateStarted {
		return fmt.Errorf("addFrame: %w", ErrNotStarted)
	}
	if img == nil {
		return fmt.Errorf("addFrame: %w", ErrNilSource)
	}
	if !e.sizeSet {
		b := img.Bounds()
		e.SetSize(b.Dx(), b.Dy())
	}
	return e.encodeFrame(ImageToRGBA(img).Pix)
}

// AddFrameRGBA encodes one frame from a flat RGBA buffer of
// width×height×4 bytes. The canvas size must already be known, a raw
// buffer carries no geometry to derive it from.
func (e *Encoder) AddFrameRGBA(pix []byte) error {
	if e.state != stateStarted {
		return fmt.Errorf("addFrame: %w", ErrNotStarted)
	}
	if pix == nil {
		return fmt.Errorf("addFrame: %w", ErrNilSource)
	}
	if !e.sizeSet {
		return fmt.Errorf("addFrame: %w", ErrSizeUnknown)
	}
	return e.encodeFrame(pix)
}

// encodeFrame runs the per-frame pipeline: extract, quantize, remap
// transparency, then write this frame's blocks. Bytes already written are
// not rolled back on failure; the caller must discard the whole stream.
func (e *Encoder) encodeFrame(rgba []byte) error {
	if len(rgba) != e.width*e.height*4 {
		return fmt.Errorf("addFrame: got %d bytes for %dx%d: %w",
			len(rgba), e.width, e.height, ErrBadBuffer)
	}
	e.extractPixels(rgba)
	if err := e.analyzePixels(); err != nil {
		return fmt.Errorf("addFrame: quantize: %w", err)
	}
	if e.firstFrame {
		// Глобальные структуры пишутся ровно один раз, сразу после сигнатуры.
		if err := e.writeLSD(); err != nil {
			return fmt.Errorf("addFrame: screen descriptor: %w", err)
		}
		if err := e.writePalette(); err != nil {
			return fmt.Errorf("addFrame: global color table: %w", err)
		}
		if e.repeat >= 0 {
			if err := e.writeNetscapeExt(); err != nil {
				return fmt.Errorf("addFrame: loop extension: %w", err)
			}
		}
	}
	if err := e.writeGraphicCtrlExt(); err != nil {
		return fmt.Errorf("addFrame: graphic control: %w", err)
	}
	if e.comment != "" {
		if err := e.writeCommentExt(); err != nil {
			return fmt.Errorf("addFrame: comment: %w", err)
		}
	}
	if err := e.writeImageDesc(); err != nil {
		return fmt.Errorf("addFrame: image descriptor: %w", err)
	}
	if !e.firstFrame {
		// Кадры после первого несут собственную локальную таблицу.
		if err := e.writePalette(); err != nil {
			return fmt.Errorf("addFrame: local color table: %w", err)
		}
	}
	if err := e.comp.Compress(e.width, e.height, e.indexedPixels, colorDepth, e.out); err != nil {
		return fmt.Errorf("addFrame: compress: %w", err)
	}
	e.firstFrame = false
	return nil
}

// Finish closes the session by writing the single trailer byte. Without an
// open session this is a failing no-op.
func (e *Encoder) Finish() error {
	if e.state != stateStarted {
		return fmt.Errorf("finish: %w", ErrNotStarted)
	}
	if err := e.out.WriteByte(0x3b); err != nil {
		return fmt.Errorf("finish: write trailer: %w", err)
	}
	e.state = stateFinished
	return nil
}

// Bytes returns the accumulated stream. Valid at any point; a complete GIF
// only after Finish.
func (e *Encoder) Bytes() []byte { return e.out.Bytes() }

// Stream returns the underlying sink.
func (e *Encoder) Stream() *ByteStream { return e.out }

// -----------------------------------------------------------------------------
// Frame analysis
// -----------------------------------------------------------------------------

// extractPixels rebuilds the interleaved RGB buffer of the active frame
// from flat RGBA, dropping alpha. The buffer is reused between frames.
func (e *Encoder) extractPixels(rgba []byte) {
	n := e.width * e.height
	if cap(e.pixels) < n*3 {
		e.pixels = make([]byte, n*3)
	}
	e.pixels = e.pixels[:n*3]
	j := 0
	for i := 0; i < n*4; i += 4 {
		e.pixels[j] = rgba[i]
		e.pixels[j+1] = rgba[i+1]
		e.pixels[j+2] = rgba[i+2]
		j += 3
	}
}

// analyzePixels quantizes the active frame, marks the palette slots the
// frame actually uses, and resolves the transparent index when a
// transparent color is configured. Used marks are per frame: they are
// cleared here so the transparency search never sees the previous frame's
// slots.
func (e *Encoder) analyzePixels() error {
	tab, indexed, err := e.quant.Quantize(e.pixels, e.sample)
	if err != nil {
		return err
	}
	if len(indexed) != e.width*e.height {
		return fmt.Errorf("%d indices for %d pixels: %w",
			len(indexed), e.width*e.height, ErrBadBuffer)
	}
	if len(tab) > 3*maxColors {
		return fmt.Errorf("color table of %d entries: %w", len(tab)/3, ErrBadBuffer)
	}
	e.colorTab = tab
	e.indexedPixels = indexed
	e.usedEntry = [maxColors]bool{}
	for _, idx := range indexed {
		e.usedEntry[idx] = true
	}
	e.palSize = paletteSizeBits(len(tab) / 3)
	e.transIndex = 0
	if e.transSet {
		e.transIndex = e.findClosest(e.transColor)
	}
	// Сырой RGB-буфер после квантования больше не нужен.
	e.pixels = e.pixels[:0]
	return nil
}

// findClosest returns the index of the used palette entry nearest to c by
// squared channel distance, or -1 when no color table exists. The
// comparison is strict less-than, so ties keep the lowest index.
func (e *Encoder) findClosest(c color.RGBA) int {
	if e.colorTab == nil {
		return -1
	}
	minpos := 0
	dmin := 256 * 256 * 256
	for i := 0; i+2 < len(e.colorTab); i += 3 {
		index := i / 3
		if !e.usedEntry[index] {
			continue
		}
		dr := int(c.R) - int(e.colorTab[i])
		dg := int(c.G) - int(e.colorTab[i+1])
		db := int(c.B) - int(e.colorTab[i+2])
		d := dr*dr + dg*dg + db*db
		if d < dmin {
			dmin = d
			minpos = index
		}
	}
	return minpos
}

// paletteSizes are the legal color table entry counts; the descriptor
// field stores the index into this table.
var paletteSizes = [8]int{2, 4, 8, 16, 32, 64, 128, 256}

// paletteSizeBits encodes a table of n entries as ceil(log2(n))-1, clamped
// into the three-bit descriptor field.
func paletteSizeBits(n int) int {
	for i, v := range paletteSizes {
		if n <= v {
			return i
		}
	}
	return 7
}

// -----------------------------------------------------------------------------
// Block writers
// -----------------------------------------------------------------------------

// writeShort appends a 16-bit value little-endian.
func (e *Encoder) writeShort(v int) error {
	if err := e.out.WriteByte(byte(v & 0xff)); err != nil {
		return err
	}
	return e.out.WriteByte(byte(v >> 8 & 0xff))
}

// writeLSD writes the Logical Screen Descriptor: canvas size and global
// color table metadata. Written exactly once, with the first frame.
func (e *Encoder) writeLSD() error {
	if err := e.writeShort(e.width); err != nil {
		return err
	}
	if err := e.writeShort(e.height); err != nil {
		return err
	}
	// packed: GCT present | 8-bit color resolution | unsorted | table size
	if err := e.out.WriteByte(byte(0x80 | 0x70 | e.palSize)); err != nil {
		return err
	}
	if err := e.out.WriteByte(0); err != nil { // background color index
		return err
	}
	return e.out.WriteByte(0) // pixel aspect ratio
}

// writePalette writes the active color table, zero-padded to the size the
// descriptor declared: 3·2^(palSize+1) bytes, 768 for a full table.
func (e *Encoder) writePalette() error {
	if err := e.out.WriteBytes(e.colorTab, 0, -1); err != nil {
		return err
	}
	for pad := 3*paletteSizes[e.palSize] - len(e.colorTab); pad > 0; pad-- {
		if err := e.out.WriteByte(0); err != nil {
			return err
		}
	}
	return nil
}

// writeNetscapeExt writes the looping application extension.
func (e *Encoder) writeNetscapeExt() error {
	if err := e.out.WriteByte(0x21); err != nil { // extension introducer
		return err
	}
	if err := e.out.WriteByte(0xff); err != nil { // application label
		return err
	}
	if err := e.out.WriteByte(11); err != nil {
		return err
	}
	if err := e.out.WriteString("NETSCAPE2.0"); err != nil {
		return err
	}
	if err := e.out.WriteByte(3); err != nil { // sub-block size
		return err
	}
	if err := e.out.WriteByte(1); err != nil { // loop sub-block id
		return err
	}
	if err := e.writeShort(e.repeat); err != nil { // 0 = repeat forever
		return err
	}
	return e.out.WriteByte(0)
}

// writeGraphicCtrlExt writes per-frame timing, disposal and transparency.
func (e *Encoder) writeGraphicCtrlExt() error {
	if err := e.out.WriteByte(0x21); err != nil {
		return err
	}
	if err := e.out.WriteByte(0xf9); err != nil {
		return err
	}
	if err := e.out.WriteByte(4); err != nil { // block size
		return err
	}
	var transp, disp int
	if e.transSet {
		transp = 1
		disp = 2 // restore to background
	}
	if e.dispose >= 0 {
		disp = e.dispose & 7
	}
	// packed: reserved | disposal | user input = 0 | transparency flag
	if err := e.out.WriteByte(byte(disp<<2 | transp)); err != nil {
		return err
	}
	if err := e.writeShort(e.delay); err != nil {
		return err
	}
	if err := e.out.WriteByte(byte(e.transIndex)); err != nil {
		return err
	}
	return e.out.WriteByte(0)
}

// writeCommentExt writes the Comment Extension. Only called with a
// non-empty comment; SetComment guarantees the length fits the one-byte
// size field.
func (e *Encoder) writeCommentExt() error {
	if err := e.out.WriteByte(0x21); err != nil {
		return err
	}
	if err := e.out.WriteByte(0xfe); err != nil {
		return err
	}
	if err := e.out.WriteByte(byte(len(e.comment))); err != nil {
		return err
	}
	if err := e.out.WriteString(e.comment); err != nil {
		return err
	}
	return e.out.WriteByte(0)
}

// writeImageDesc writes the Image Descriptor. Frames always cover the full
// canvas at (0,0); frames after the first declare a local color table.
func (e *Encoder) writeImageDesc() error {
	if err := e.out.WriteByte(0x2c); err != nil {
		return err
	}
	if err := e.writeShort(0); err != nil { // x position
		return err
	}
	if err := e.writeShort(0); err != nil { // y position
		return err
	}
	if err := e.writeShort(e.width); err != nil {
		return err
	}
	if err := e.writeShort(e.height); err != nil {
		return err
	}
	if e.firstFrame {
		return e.out.WriteByte(0) // global table in use
	}
	// packed: LCT present | no interlace | unsorted | table size
	return e.out.WriteByte(byte(0x80 | e.palSize))
}
