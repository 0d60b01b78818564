package gifenc

import "fmt"

// Quantizer reduces an interleaved RGB stream to a palette of at most 256
// colors and maps every pixel to a palette index. The returned table is a
// flat R,G,B sequence. sample is the sampling factor: 1 scans every pixel,
// larger values trade fidelity for speed.
type Quantizer interface {
	Quantize(rgb []byte, sample int) (colorTab []byte, indexed []byte, err error)
}

// Сетевые константы NeuQuant (нейросетевой квантователь Деккера).
// Вся арифметика целочисленная, с фиксированной точкой на сдвигах.
const (
	netSize = 256 // number of colors used

	// four primes near 500: assume no image is so large that its length is
	// divisible by all four
	prime1 = 499
	prime2 = 491
	prime3 = 487
	prime4 = 503

	minPictureBytes = 3 * prime4

	maxNetPos    = netSize - 1
	netBiasShift = 4 // bias for color values
	nCycles      = 100

	// freq and bias
	intBiasShift = 16
	intBias      = 1 << intBiasShift
	gammaShift   = 10
	betaShift    = 10
	beta         = intBias >> betaShift
	betaGamma    = intBias << (gammaShift - betaShift)

	// decreasing radius factor: for 256 colors the radius starts at 32 and
	// decreases by a factor of 1/30 each cycle
	initRad         = netSize >> 3
	radiusBiasShift = 6
	radiusBias      = 1 << radiusBiasShift
	initRadius      = initRad * radiusBias
	radiusDec       = 30

	// decreasing alpha factor
	alphaBiasShift = 10
	initAlpha      = 1 << alphaBiasShift

	radBiasShift   = 8
	radBias        = 1 << radBiasShift
	alphaRadBShift = alphaBiasShift + radBiasShift
	alphaRadBias   = 1 << alphaRadBShift
)

// NeuQuant is the default Quantizer: a neural network palette learner that
// always produces a full 256-entry table. One instance may be reused across
// frames; the network is re-initialized on every Quantize call. Not safe
// for concurrent use.
type NeuQuant struct {
	pixels   []byte
	sample   int
	alphaDec int

	// network entries hold r,g,b in netBiasShift fixed point plus the
	// entry's original position, restored when the table is emitted.
	network  [netSize][4]int
	netindex [256]int // for network lookup, keyed by green
	bias     [netSize]int
	freq     [netSize]int
	radpower [initRad]int
}

func NewNeuQuant() *NeuQuant {
	return &NeuQuant{}
}

// Quantize learns a palette from the RGB stream and maps every input pixel
// onto it.
func (q *NeuQuant) Quantize(rgb []byte, sample int) ([]byte, []byte, error) {
	if len(rgb) < 3 || len(rgb)%3 != 0 {
		return nil, nil, fmt.Errorf("neuquant: rgb stream of %d bytes: %w", len(rgb), ErrBadBuffer)
	}
	q.init(rgb, clampSample(sample))
	q.learn()
	q.unbiasNet()
	q.inxBuild()
	tab := q.colorMap()

	indexed := make([]byte, len(rgb)/3)
	for i, k := 0, 0; i < len(indexed); i, k = i+1, k+3 {
		indexed[i] = byte(q.lookup(int(rgb[k]), int(rgb[k+1]), int(rgb[k+2])))
	}
	return tab, indexed, nil
}

// init seeds the network along the grey diagonal and resets bias and
// frequency.
func (q *NeuQuant) init(rgb []byte, sample int) {
	q.pixels = rgb
	q.sample = sample
	for i := 0; i < netSize; i++ {
		v := (i << (netBiasShift + 8)) / netSize
		q.network[i] = [4]int{v, v, v, 0}
		q.freq[i] = intBias / netSize
		q.bias[i] = 0
	}
}

// learn runs the main training loop over a pseudo-random walk of the
// sampled pixels.
func (q *NeuQuant) learn() {
	lengthCount := len(q.pixels)
	if lengthCount < minPictureBytes {
		q.sample = 1
	}
	q.alphaDec = 30 + (q.sample-1)/3

	samplePixels := lengthCount / (3 * q.sample)
	delta := samplePixels / nCycles
	if delta == 0 {
		delta = 1
	}
	alpha := initAlpha
	radius := initRadius

	rad := radius >> radiusBiasShift
	if rad <= 1 {
		rad = 0
	}
	for i := 0; i < rad; i++ {
		q.radpower[i] = alpha * ((rad*rad - i*i) * radBias) / (rad * rad)
	}

	// Шаг обхода: простое число, не делящее длину, даёт псевдослучайный
	// проход по всем пикселям без повторов.
	var step int
	switch {
	case lengthCount < minPictureBytes:
		step = 3
	case lengthCount%prime1 != 0:
		step = 3 * prime1
	case lengthCount%prime2 != 0:
		step = 3 * prime2
	case lengthCount%prime3 != 0:
		step = 3 * prime3
	default:
		step = 3 * prime4
	}

	pix := 0
	for i := 0; i < samplePixels; {
		r := int(q.pixels[pix]) << netBiasShift
		g := int(q.pixels[pix+1]) << netBiasShift
		b := int(q.pixels[pix+2]) << netBiasShift
		j := q.contest(r, g, b)

		q.alterSingle(alpha, j, r, g, b)
		if rad != 0 {
			q.alterNeigh(rad, j, r, g, b)
		}

		pix += step
		if pix >= lengthCount {
			pix -= lengthCount
		}

		i++
		if i%delta == 0 {
			alpha -= alpha / q.alphaDec
			radius -= radius / radiusDec
			rad = radius >> radiusBiasShift
			if rad <= 1 {
				rad = 0
			}
			for j := 0; j < rad; j++ {
				q.radpower[j] = alpha * ((rad*rad - j*j) * radBias) / (rad * rad)
			}
		}
	}
}

// contest finds the closest neuron by distance and updates its frequency;
// the winner by biased distance is returned and trained. Slots with high
// frequency are penalized so the net spreads over the color space.
func (q *NeuQuant) contest(r, g, b int) int {
	bestd := int(^uint(0) >> 1)
	bestBiasD := bestd
	bestPos := -1
	bestBiasPos := -1

	for i := 0; i < netSize; i++ {
		n := &q.network[i]
		dist := n[0] - r
		if dist < 0 {
			dist = -dist
		}
		a := n[1] - g
		if a < 0 {
			a = -a
		}
		dist += a
		a = n[2] - b
		if a < 0 {
			a = -a
		}
		dist += a
		if dist < bestd {
			bestd = dist
			bestPos = i
		}
		biasDist := dist - (q.bias[i] >> (intBiasShift - netBiasShift))
		if biasDist < bestBiasD {
			bestBiasD = biasDist
			bestBiasPos = i
		}
		betaFreq := q.freq[i] >> betaShift
		q.freq[i] -= betaFreq
		q.bias[i] += betaFreq << gammaShift
	}
	q.freq[bestPos] += beta
	q.bias[bestPos] -= betaGamma
	return bestBiasPos
}

// alterSingle moves neuron i towards the color by alpha*(1/initAlpha).
func (q *NeuQuant) alterSingle(alpha, i, r, g, b int) {
	n := &q.network[i]
	n[0] -= alpha * (n[0] - r) / initAlpha
	n[1] -= alpha * (n[1] - g) / initAlpha
	n[2] -= alpha * (n[2] - b) / initAlpha
}

// alterNeigh moves neurons adjacent to i towards the color by a
// precomputed radius-falloff factor.
func (q *NeuQuant) alterNeigh(rad, i, r, g, b int) {
	lo := i - rad
	if lo < -1 {
		lo = -1
	}
	hi := i + rad
	if hi > netSize {
		hi = netSize
	}

	j := i + 1
	k := i - 1
	m := 1
	for j < hi || k > lo {
		a := q.radpower[m]
		m++
		if j < hi {
			n := &q.network[j]
			n[0] -= a * (n[0] - r) / alphaRadBias
			n[1] -= a * (n[1] - g) / alphaRadBias
			n[2] -= a * (n[2] - b) / alphaRadBias
			j++
		}
		if k > lo {
			n := &q.network[k]
			n[0] -= a * (n[0] - r) / alphaRadBias
			n[1] -= a * (n[1] - g) / alphaRadBias
			n[2] -= a * (n[2] - b) / alphaRadBias
			k--
		}
	}
}

// unbiasNet strips the fixed-point bias and records each entry's original
// position.
func (q *NeuQuant) unbiasNet() {
	for i := 0; i < netSize; i++ {
		q.network[i][0] >>= netBiasShift
		q.network[i][1] >>= netBiasShift
		q.network[i][2] >>= netBiasShift
		q.network[i][3] = i
	}
}

// inxBuild sorts the network on the green channel (insertion sort) and
// builds netindex[0..255] so lookups can start near the right entry.
func (q *NeuQuant) inxBuild() {
	previousCol := 0
	startPos := 0
	for i := 0; i < netSize; i++ {
		smallPos := i
		smallVal := q.network[i][1]
		for j := i + 1; j < netSize; j++ {
			if q.network[j][1] < smallVal {
				smallPos = j
				smallVal = q.network[j][1]
			}
		}
		if i != smallPos {
			q.network[i], q.network[smallPos] = q.network[smallPos], q.network[i]
		}
		if smallVal != previousCol {
			q.netindex[previousCol] = (startPos + i) >> 1
			for j := previousCol + 1; j < smallVal; j++ {
				q.netindex[j] = i
			}
			previousCol = smallVal
			startPos = i
		}
	}
	q.netindex[previousCol] = (startPos + maxNetPos) >> 1
	for j := previousCol + 1; j < 256; j++ {
		q.netindex[j] = maxNetPos
	}
}

// lookup searches for the best-matching entry of (r,g,b), walking outwards
// from the green-sorted start position, and returns its original index.
func (q *NeuQuant) lookup(r, g, b int) int {
	bestd := 1000 // biggest possible distance is 256*3
	best := -1

	i := q.netindex[g]
	j := i - 1
	for i < netSize || j >= 0 {
		if i < netSize {
			n := &q.network[i]
			dist := n[1] - g // green is the sort key
			if dist >= bestd {
				i = netSize // stop the upward walk
			} else {
				i++
				if dist < 0 {
					dist = -dist
				}
				a := n[0] - r
				if a < 0 {
					a = -a
				}
				dist += a
				if dist < bestd {
					a = n[2] - b
					if a < 0 {
						a = -a
					}
					dist += a
					if dist < bestd {
						bestd = dist
						best = n[3]
					}
				}
			}
		}
		if j >= 0 {
			n := &q.network[j]
			dist := g - n[1]
			if dist >= bestd {
				j = -1 // stop the downward walk
			} else {
				j--
				if dist < 0 {
					dist = -dist
				}
				a := n[0] - r
				if a < 0 {
					a = -a
				}
				dist += a
				if dist < bestd {
					a = n[2] - b
					if a < 0 {
						a = -a
					}
					dist += a
					if dist < bestd {
						bestd = dist
						best = n[3]
					}
				}
			}
		}
	}
	return best
}

// colorMap emits the learned palette as flat RGB triples in original entry
// order.
func (q *NeuQuant) colorMap() []byte {
	var index [netSize]int
	for i := 0; i < netSize; i++ {
		index[q.network[i][3]] = i
	}
	tab := make([]byte, 0, 3*netSize)
	for i := 0; i < netSize; i++ {
		j := index[i]
		tab = append(tab,
			byte(q.network[j][0]),
			byte(q.network[j][1]),
			byte(q.network[j][2]))
	}
	return tab
}
