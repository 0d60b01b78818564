// Command gifenc assembles an animated GIF89a file from a set of still
// images, optionally producing an MJPEG AVI alongside.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gifenc"

	fcolor "github.com/fatih/color"
	"github.com/golang/freetype/truetype"
	"github.com/icza/mjpeg"
	"github.com/nfnt/resize"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

// повторяемый флаг -in
type multiIn []string

func (m *multiIn) String() string     { return strings.Join(*m, ",") }
func (m *multiIn) Set(s string) error { *m = append(*m, s); return nil }

var (
	inMany    multiIn
	outPath   = flag.String("out", "out.gif", "куда сохранить GIF")
	fps       = flag.Float64("fps", 10.0, "кадров в секунду")
	loop      = flag.Int("loop", 0, "число повторов цикла (0 = бесконечно, -1 = без цикла)")
	quality   = flag.Int("quality", 10, "фактор сэмплирования квантователя (1 = максимум качества)")
	width     = flag.Int("width", 0, "ширина кадра, 0 = как у исходника")
	height    = flag.Int("height", 0, "высота кадра, 0 = как у исходника")
	transHex  = flag.String("transparent", "", "прозрачный цвет, hex #RRGGBB")
	comment   = flag.String("comment", "", "комментарий в поток (до 255 байт)")
	label     = flag.Bool("label", false, "подписывать кадры именем файла")
	medianCut = flag.Bool("mediancut", false, "median-cut квантователь вместо NeuQuant")
	aviPath   = flag.String("avi", "", "дополнительно собрать MJPEG AVI по этому пути")
)

// for drawing labels over frames.
var (
	defaultFont font.Face
	white       = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	black       = color.RGBA{0x00, 0x00, 0x00, 0xFF}
)

func main() {
	flag.Var(&inMany, "in", "путь к кадру (можно указывать много раз)")
	flag.Parse()

	inputs := append([]string(inMany), flag.Args()...)
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: gifenc [flags] frame1.png frame2.png ...")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *quality < 1 {
		fmt.Fprintln(os.Stderr, "quality must be an integer >= 1")
		os.Exit(1)
	}

	fo, err := truetype.Parse(gomono.TTF)
	if err != nil {
		fmt.Fprintln(os.Stderr, "font error:", err)
		os.Exit(1)
	}
	defaultFont = truetype.NewFace(fo, &truetype.Options{Size: 16.0})

	frames, names, err := loadFrames(inputs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load error:", err)
		os.Exit(1)
	}

	start := time.Now()
	data, err := encodeGIF(frames, names)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write error:", err)
		os.Exit(1)
	}

	cyan := fcolor.New(fcolor.FgCyan).SprintFunc()
	fmt.Printf("%s %d frames -> %s (%d bytes) in %v\n",
		cyan("[GIF]"), len(frames), *outPath, len(data), time.Since(start).Round(time.Millisecond))

	if *aviPath != "" {
		if err := writeAVI(frames, *aviPath); err != nil {
			fmt.Fprintln(os.Stderr, "avi error:", err)
			os.Exit(1)
		}
		fmt.Printf("%s %d frames -> %s\n", cyan("[AVI]"), len(frames), *aviPath)
	}
}

// loadFrames декодирует входные файлы, при необходимости масштабирует и
// подписывает кадры.
func loadFrames(paths []string) ([]image.Image, []string, error) {
	frames := make([]image.Image, 0, len(paths))
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, nil, err
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", p, err)
		}
		if *width > 0 || *height > 0 {
			img = resize.Resize(uint(*width), uint(*height), img, resize.Bilinear)
		}
		if *label {
			rgba := gifenc.ImageToRGBA(img)
			labelImage(rgba, filepath.Base(p))
			img = rgba
		}
		frames = append(frames, img)
		names = append(names, filepath.Base(p))
	}
	return frames, names, nil
}

// encodeGIF прогоняет кадры через энкодер с прогресс-баром.
func encodeGIF(frames []image.Image, names []string) ([]byte, error) {
	enc := gifenc.NewEncoder()
	enc.SetFrameRate(*fps)
	enc.SetRepeat(*loop)
	enc.SetQuality(*quality)
	if *medianCut {
		enc.SetQuantizer(gifenc.MedianCut{})
	}
	if *transHex != "" {
		c, err := ParseHexColor(*transHex)
		if err != nil {
			return nil, err
		}
		enc.SetTransparent(c)
	}
	if *comment != "" {
		if err := enc.SetComment(*comment); err != nil {
			return nil, err
		}
	}

	if err := enc.Start(); err != nil {
		return nil, err
	}
	bar := newBar(len(frames))
	for i, fr := range frames {
		if err := enc.AddFrame(fr); err != nil {
			return nil, fmt.Errorf("frame %s: %w", names[i], err)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	if err := enc.Finish(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func newBar(total int) *progressbar.ProgressBar {
	theme := progressbar.Theme{
		Saucer:        "=",
		SaucerHead:    ">",
		SaucerPadding: " ",
		BarStart:      "[",
		BarEnd:        "]",
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetTheme(theme),
		progressbar.OptionSetDescription("[GIF] кодирование"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// labelImage рисует подпись в левом нижнем углу, с чёрной обводкой
// вокруг белого текста.
func labelImage(dst draw.Image, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Face: defaultFont,
	}

	x := dst.Bounds().Min.X + 4
	y := dst.Bounds().Max.Y - 4

	for xx := -1; xx <= 1; xx++ {
		for yy := -1; yy <= 1; yy++ {
			d.Src = image.NewUniform(black)
			d.Dot = fixed.P(x+xx, y+yy)
			d.DrawString(text)
		}
	}

	d.Src = image.NewUniform(white)
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

// writeAVI собирает те же кадры в MJPEG AVI.
func writeAVI(frames []image.Image, path string) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames")
	}
	b := frames[0].Bounds()
	aw, err := mjpeg.New(path, int32(b.Dx()), int32(b.Dy()), int32(*fps))
	if err != nil {
		return err
	}
	for _, fr := range frames {
		buf := &bytes.Buffer{}
		if err := jpeg.Encode(buf, fr, nil); err != nil {
			aw.Close()
			return err
		}
		if err := aw.AddFrame(buf.Bytes()); err != nil {
			aw.Close()
			return err
		}
	}
	return aw.Close()
}
