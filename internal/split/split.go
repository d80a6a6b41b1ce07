// Package split partitions a prepared table into stratified train and test
// sets.
package split

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/leapstack-labs/featureprep/pkg/core"
)

// Defaults used when Options fields are zero.
const (
	DefaultLabelColumn  = "Survived"
	DefaultTestFraction = 0.2
	DefaultSeed         = 42
)

// Options configures a stratified split.
type Options struct {
	LabelColumn  string
	TestFraction float64
	Seed         int64
}

// DefaultOptions returns the default split configuration.
func DefaultOptions() Options {
	return Options{
		LabelColumn:  DefaultLabelColumn,
		TestFraction: DefaultTestFraction,
		Seed:         DefaultSeed,
	}
}

// Result holds both partitions and the source row indices of each.
type Result struct {
	Train     *core.Table
	Test      *core.Table
	TrainRows []int
	TestRows  []int
	// Classes maps each label value to its (train, test) row counts.
	Classes map[string][2]int
}

type class struct {
	key  string
	rows []int
	test int
}

// Stratified splits t so that every label class keeps approximately its
// share in both partitions and appears at least once in each. The test set
// holds ceil(TestFraction*n) rows. Rows are chosen by a PCG generator seeded
// with Seed, and both partitions keep the original row order. The same
// input, options and Go release always produce the same partitions.
func Stratified(t *core.Table, opts Options) (*Result, error) {
	if opts.LabelColumn == "" {
		opts.LabelColumn = DefaultLabelColumn
	}
	if !(opts.TestFraction > 0 && opts.TestFraction < 1) {
		return nil, fmt.Errorf("test fraction must be in (0, 1), got %v", opts.TestFraction)
	}

	label := t.Column(opts.LabelColumn)
	if label == nil {
		return nil, &core.SchemaMismatchError{Column: opts.LabelColumn, Reason: "label column is missing"}
	}

	classes, err := groupByLabel(label)
	if err != nil {
		return nil, err
	}

	n := t.NumRows()
	for _, c := range classes {
		if len(c.rows) < 2 {
			return nil, &core.InsufficientDataError{Label: opts.LabelColumn, Class: c.key, Rows: len(c.rows)}
		}
	}

	nTest := int(math.Ceil(opts.TestFraction*float64(n) - 1e-9))
	if nTest < len(classes) || n-nTest < len(classes) {
		return nil, &core.InsufficientDataError{
			Label: opts.LabelColumn,
			Reason: fmt.Sprintf("%d rows split into %d test and %d train rows cannot hold %d classes in each partition",
				n, nTest, n-nTest, len(classes)),
		}
	}

	allocate(classes, n, nTest)

	rng := rand.New(rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed))) //nolint:gosec // reproducible sampling, not security
	inTest := make([]bool, n)
	res := &Result{Classes: make(map[string][2]int, len(classes))}
	for _, c := range classes {
		perm := append([]int(nil), c.rows...)
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		for _, r := range perm[:c.test] {
			inTest[r] = true
		}
		res.Classes[c.key] = [2]int{len(c.rows) - c.test, c.test}
	}

	for i := range n {
		if inTest[i] {
			res.TestRows = append(res.TestRows, i)
		} else {
			res.TrainRows = append(res.TrainRows, i)
		}
	}
	res.Train = t.Select(res.TrainRows)
	res.Test = t.Select(res.TestRows)
	return res, nil
}

// groupByLabel returns the classes ordered by label value.
func groupByLabel(label *core.Column) ([]*class, error) {
	byKey := map[string]*class{}
	for i, v := range label.Values {
		if v == nil {
			return nil, &core.SchemaMismatchError{Column: label.Name, Reason: fmt.Sprintf("label is null at row %d", i)}
		}
		key := labelKey(v)
		c, ok := byKey[key]
		if !ok {
			c = &class{key: key}
			byKey[key] = c
		}
		c.rows = append(c.rows, i)
	}

	classes := make([]*class, 0, len(byKey))
	for _, c := range byKey {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].key < classes[j].key })
	return classes, nil
}

func labelKey(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// allocate sets each class's test count by largest remainder, then moves
// rows so that every class keeps at least one row in each partition.
// Callers guarantee len(classes) <= nTest <= n-len(classes) and that every
// class has two or more rows.
func allocate(classes []*class, n, nTest int) {
	type share struct {
		c   *class
		rem int
	}
	shares := make([]share, len(classes))
	assigned := 0
	for i, c := range classes {
		num := nTest * len(c.rows)
		c.test = num / n
		assigned += c.test
		shares[i] = share{c: c, rem: num % n}
	}

	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].rem != shares[j].rem {
			return shares[i].rem > shares[j].rem
		}
		return len(shares[i].c.rows) > len(shares[j].c.rows)
	})
	for i := 0; assigned < nTest; i++ {
		shares[i%len(shares)].c.test++
		assigned++
	}

	for _, c := range classes {
		for c.test < 1 {
			donor := pick(classes, func(d *class) int { return d.test - 1 })
			donor.test--
			c.test++
		}
		for c.test > len(c.rows)-1 {
			taker := pick(classes, func(d *class) int { return len(d.rows) - 1 - d.test })
			taker.test++
			c.test--
		}
	}
}

// pick returns the first class with the largest positive slack.
func pick(classes []*class, slack func(*class) int) *class {
	var best *class
	bestSlack := 0
	for _, c := range classes {
		if s := slack(c); s > bestSlack {
			best, bestSlack = c, s
		}
	}
	return best
}
