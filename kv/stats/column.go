package stats

import (
	"bytes"
	"math/rand"
	"sort"

	"github.com/dgryski/go-farm"
	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/tinysi/kv/util/rowcodec"
)

// QuantilePoints are the percentiles reported for numeric columns.
var QuantilePoints = []float64{25, 50, 75, 95}

// FrequentElement is a value and the number of rows holding it.
type FrequentElement struct {
	Value rowcodec.Datum
	Count int64
}

// ColumnStatistics describes the values of one column in one partition.
type ColumnStatistics struct {
	ColID        int64
	NullCount    int64
	NonNullCount int64
	Min          rowcodec.Datum
	Max          rowcodec.Datum
	Distinct     int64
	TopK         []FrequentElement
	// AvgWidth is the mean packed width of the non null values.
	AvgWidth float64
	// Mean and Quantiles are only set for numeric columns. Quantiles follow QuantilePoints and are computed over a
	// uniform sample of the values.
	Mean      float64
	Quantiles []float64
}

// NullFraction is the share of rows where the column is null.
func (s *ColumnStatistics) NullFraction() float64 {
	total := s.NullCount + s.NonNullCount
	if total == 0 {
		return 0
	}
	return float64(s.NullCount) / float64(total)
}

type frequency struct {
	value rowcodec.Datum
	count int64
}

type columnCollector struct {
	colID      int64
	topK       int
	sampleSize int

	nulls    int64
	nonNulls int64
	width    int64
	min, max rowcodec.Datum
	freqs    map[uint64]*frequency

	numeric bool
	seen    int64
	sample  []float64
	sum     float64
	rnd     *rand.Rand
}

func newColumnCollector(colID int64, topK, sampleSize int) *columnCollector {
	return &columnCollector{
		colID:      colID,
		topK:       topK,
		sampleSize: sampleSize,
		freqs:      make(map[uint64]*frequency),
		rnd:        rand.New(rand.NewSource(colID)),
	}
}

func fingerprint(d rowcodec.Datum) uint64 {
	b := make([]byte, 0, 1+d.Width())
	b = append(b, byte(d.Kind()))
	b = append(b, d.String()...)
	return farm.Fingerprint64(b)
}

func (c *columnCollector) update(d rowcodec.Datum) {
	if d.IsNull() {
		c.nulls++
		return
	}
	if c.nonNulls == 0 || compareDatums(d, c.min) < 0 {
		c.min = d
	}
	if c.nonNulls == 0 || compareDatums(d, c.max) > 0 {
		c.max = d
	}
	c.nonNulls++
	c.width += int64(d.Width())

	fp := fingerprint(d)
	if f, ok := c.freqs[fp]; ok {
		f.count++
	} else {
		c.freqs[fp] = &frequency{value: d, count: 1}
	}

	if v, ok := d.ToFloat64(); ok {
		c.numeric = true
		c.sum += v
		c.sampleValue(v)
	}
}

// sampleValue keeps a reservoir of at most sampleSize values.
func (c *columnCollector) sampleValue(v float64) {
	c.seen++
	if c.sampleSize <= 0 || len(c.sample) < c.sampleSize {
		c.sample = append(c.sample, v)
		return
	}
	if j := c.rnd.Int63n(c.seen); j < int64(c.sampleSize) {
		c.sample[j] = v
	}
}

func (c *columnCollector) statistics() (*ColumnStatistics, error) {
	s := &ColumnStatistics{
		ColID:        c.colID,
		NullCount:    c.nulls,
		NonNullCount: c.nonNulls,
		Min:          c.min,
		Max:          c.max,
		Distinct:     int64(len(c.freqs)),
		TopK:         c.frequent(),
	}
	if c.nonNulls == 0 {
		return s, nil
	}
	s.AvgWidth = float64(c.width) / float64(c.nonNulls)
	if !c.numeric {
		return s, nil
	}
	s.Mean = c.sum / float64(c.seen)
	data := stats.Float64Data(c.sample)
	for _, p := range QuantilePoints {
		q, err := stats.PercentileNearestRank(data, p)
		if err != nil {
			return nil, err
		}
		s.Quantiles = append(s.Quantiles, q)
	}
	return s, nil
}

// frequent returns the topK most frequent values, most frequent first. Ties are broken by value.
func (c *columnCollector) frequent() []FrequentElement {
	if c.topK <= 0 || len(c.freqs) == 0 {
		return nil
	}
	all := make([]*frequency, 0, len(c.freqs))
	for _, f := range c.freqs {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return compareDatums(all[i].value, all[j].value) < 0
	})
	if len(all) > c.topK {
		all = all[:c.topK]
	}
	out := make([]FrequentElement, len(all))
	for i, f := range all {
		out[i] = FrequentElement{Value: f.value, Count: f.count}
	}
	return out
}

// compareDatums orders numbers numerically and everything else by bytes. Numbers sort before other kinds.
func compareDatums(a, b rowcodec.Datum) int {
	av, aNum := a.ToFloat64()
	bv, bNum := b.ToFloat64()
	switch {
	case aNum && bNum:
		if a.Kind() == rowcodec.KindInt64 && b.Kind() == rowcodec.KindInt64 {
			return compareInt(a.GetInt64(), b.GetInt64())
		}
		if a.Kind() == rowcodec.KindUint64 && b.Kind() == rowcodec.KindUint64 {
			return compareUint(a.GetUint64(), b.GetUint64())
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return bytes.Compare(a.GetBytes(), b.GetBytes())
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
